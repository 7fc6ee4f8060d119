package sim

import (
	"errors"
	"fmt"
	"math"

	"warcity.io/internal/protocol"
	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

// reject is a validation failure: the command is refused, nothing is mutated,
// and the issuer gets a private notice.
type reject struct {
	code string
	text string
}

func (r reject) Error() string { return r.text }

func rejectf(code, format string, args ...any) reject {
	return reject{code: code, text: fmt.Sprintf(format, args...)}
}

// Dispatch applies one authenticated command addressed to the issuing
// settlement. Rejections never mutate state and are reported to the issuer
// only.
func (e *Engine) Dispatch(id int64, cmd protocol.CmdMsg) {
	switch cmd.Name {
	case protocol.CmdPlaceCity:
		e.cmdPlaceCity(id)
	case protocol.CmdMove:
		e.cmdMove(id, cmd.X, cmd.Y)
	case protocol.CmdBuild:
		e.cmdBuild(id, cmd.BuildingType, cmd.GridX, cmd.GridY)
	case protocol.CmdDestroyBuilding:
		e.cmdDestroyBuilding(id, cmd.BuildingID)
	case protocol.CmdToggleDoor:
		e.cmdToggleDoor(id, cmd.BuildingID)
	case protocol.CmdTrainKnight:
		e.cmdTrainKnight(id, cmd.KnightName)
	case protocol.CmdRetrainKnight:
		e.cmdRetrainKnight(id, cmd.KnightID)
	case protocol.CmdAttackBuilding:
		e.cmdAttackBuilding(id, cmd.BuildingID, cmd.KnightIDs)
	case protocol.CmdStealLoot:
		e.cmdStealLoot(id, cmd.TargetID)
	case protocol.CmdSellFood:
		e.cmdSellFood(id, cmd.Amount)
	case protocol.CmdSellWater:
		e.cmdSellWater(id, cmd.Amount)
	default:
		e.notify(id, protocol.ErrBadRequest, fmt.Sprintf("Unknown command %q", cmd.Name))
	}
}

// fail reports a mutation error to the issuer. Returns true when the command
// was refused.
func (e *Engine) fail(id int64, err error) bool {
	if err == nil {
		return false
	}
	var r reject
	if errors.As(err, &r) {
		e.notify(id, r.code, r.text)
		return true
	}
	if errors.Is(err, state.ErrNotFound) {
		e.notify(id, protocol.ErrAuth, "Session expired. Please log in again.")
		return true
	}
	e.logf("command failed for settlement %d: %v", id, err)
	e.notify(id, protocol.ErrInternal, "Something went wrong.")
	return true
}

func (e *Engine) cmdPlaceCity(id int64) {
	var created state.Building
	var owner string
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		if tx.S.IsPlaced {
			return rejectf(protocol.ErrAlreadyPlaced, "City already placed!")
		}
		mh := e.rules.Buildings[rules.MainHouse]
		tx.S.CityX = tx.S.X
		tx.S.CityY = tx.S.Y
		tx.S.IsPlaced = true
		owner = tx.S.Username
		created = tx.AddBuilding(state.Building{
			Kind:      rules.MainHouse,
			X:         10,
			Y:         10,
			WorldX:    tx.S.CityX,
			WorldY:    tx.S.CityY,
			Health:    mh.Health,
			MaxHealth: mh.Health,
		})
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.broadcast(e.event(protocol.EvNewBuilding, newBuildingData(created, owner)))
	e.pushState(id)
	e.notify(id, "", "Kingdom established! You are now vulnerable to attacks.")
}

func (e *Engine) cmdMove(id int64, x, y float64) {
	var owner string
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		tx.S.X = x
		tx.S.Y = y
		owner = tx.S.Username
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.broadcastExcept(id, e.event(protocol.EvPlayerMoved, map[string]any{
		"id":       id,
		"username": owner,
		"x":        x,
		"y":        y,
	}))
	e.pushState(id)
}

func (e *Engine) cmdBuild(id int64, kind string, gx, gy int) {
	data, ok := e.rules.Buildings[kind]
	if !ok || !rules.IsKind(kind) {
		e.notify(id, protocol.ErrBadRequest, fmt.Sprintf("Unknown building type %q", kind))
		return
	}
	// The main house exists only through city placement; a settlement has
	// exactly one, and its fall razes the kingdom.
	if kind == rules.MainHouse {
		e.notify(id, protocol.ErrBadRequest, "Cannot build a main house")
		return
	}
	var created state.Building
	var owner string
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		if kind != rules.House {
			if over, msg := e.overHousing(tx, data.WorkersNeeded); over {
				return rejectf(protocol.ErrNoCapacity, "%s", msg)
			}
		}
		if tx.S.Gold < float64(data.CostGold) || tx.S.Food < float64(data.CostFood) {
			return rejectf(protocol.ErrNoResource, "Need %dg and %df", data.CostGold, data.CostFood)
		}
		tx.S.Gold -= float64(data.CostGold)
		tx.S.Food -= float64(data.CostFood)
		owner = tx.S.Username

		b := state.Building{
			Kind:      kind,
			X:         gx,
			Y:         gy,
			WorldX:    tx.S.CityX + float64(gx-10)*float64(e.rules.CellSize),
			WorldY:    tx.S.CityY + float64(gy-10)*float64(e.rules.CellSize),
			Health:    data.Health,
			MaxHealth: data.Health,
		}
		if kind == rules.Door {
			b.State = state.DoorClosed
		}
		created = tx.AddBuilding(b)
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.broadcast(e.event(protocol.EvNewBuilding, newBuildingData(created, owner)))
	e.pushState(id)
}

// overHousing checks the housing invariant for addedWorkers extra occupants.
// Must run under the aggregate's mutation lock.
func (e *Engine) overHousing(tx *state.Tx, addedOccupants int) (bool, string) {
	beds := tx.CountBuildings(rules.House) * e.rules.Day.BedsPerHouse
	workers := 0
	for _, b := range tx.Buildings() {
		workers += e.rules.Buildings[b.Kind].WorkersNeeded
	}
	if workers+len(tx.Knights())+addedOccupants > beds {
		return true, "Not enough houses! You need more beds."
	}
	return false, ""
}

func (e *Engine) cmdDestroyBuilding(id int64, buildingID int64) {
	var kind string
	var refund int
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		b, ok := tx.Building(buildingID)
		if !ok {
			return rejectf(protocol.ErrInvalidTarget, "Building not found")
		}
		kind = b.Kind
		refund = int(math.Floor(float64(e.rules.Buildings[b.Kind].CostGold) * e.rules.RefundFactor))
		tx.DeleteBuilding(buildingID)
		tx.S.Gold += float64(refund)
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.broadcast(e.event(protocol.EvBuildingDestroyed, map[string]any{"id": buildingID}))
	e.pushState(id)
	e.notify(id, "", fmt.Sprintf("Destroyed %s. Refunded %d gold.", kind, refund))
}

func (e *Engine) cmdToggleDoor(id int64, buildingID int64) {
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		b, ok := tx.Building(buildingID)
		if !ok || b.Kind != rules.Door {
			return rejectf(protocol.ErrInvalidTarget, "Door not found")
		}
		if b.State == state.DoorOpen {
			b.State = state.DoorClosed
		} else {
			b.State = state.DoorOpen
		}
		tx.PutBuilding(b)
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.pushState(id)
}

func (e *Engine) cmdTrainKnight(id int64, name string) {
	cost := e.rules.Knight
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		barracks := tx.CountBuildings(rules.Barracks)
		if barracks == 0 {
			return rejectf(protocol.ErrNoCapacity, "Need barracks to train knights")
		}
		knights := tx.Knights()
		capacity := barracks * e.rules.Buildings[rules.Barracks].KnightCapacity
		if len(knights) >= capacity {
			return rejectf(protocol.ErrNoCapacity, "All barracks are full! (%d per barrack)", e.rules.Buildings[rules.Barracks].KnightCapacity)
		}
		if over, msg := e.overHousing(tx, 1); over {
			return rejectf(protocol.ErrNoCapacity, "%s", msg)
		}
		if tx.S.Gold < float64(cost.CostGold) || tx.S.Food < float64(cost.CostFood) {
			return rejectf(protocol.ErrNoResource, "Need %dg and %df", cost.CostGold, cost.CostFood)
		}
		tx.S.Gold -= float64(cost.CostGold)
		tx.S.Food -= float64(cost.CostFood)
		if name == "" {
			name = fmt.Sprintf("Knight %d", len(knights)+1)
		}
		tx.AddKnight(state.Knight{
			Name:      name,
			Level:     1,
			Health:    cost.Health,
			MaxHealth: cost.Health,
		})
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.pushState(id)
}

func (e *Engine) cmdRetrainKnight(id int64, knightID int64) {
	var name string
	var newLevel int
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		k, ok := tx.Knight(knightID)
		if !ok {
			return rejectf(protocol.ErrInvalidTarget, "Knight not found")
		}
		cost := float64(e.rules.Knight.RetrainGoldPerLevel * k.Level)
		if tx.S.Gold < cost {
			return rejectf(protocol.ErrNoResource, "Need %.0f gold to retrain", cost)
		}
		tx.S.Gold -= cost
		k.Level++
		tx.PutKnight(k)
		name = k.Name
		newLevel = k.Level
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.pushState(id)
	e.notify(id, "", fmt.Sprintf("Knight %s leveled up to %d!", name, newLevel))
}

func (e *Engine) cmdAttackBuilding(id int64, buildingID int64, knightIDs []int64) {
	if len(knightIDs) == 0 {
		e.notify(id, protocol.ErrBadRequest, "Send at least one knight to attack")
		return
	}
	ownerID, ok := e.store.FindBuilding(buildingID)
	if !ok || ownerID == id {
		e.notify(id, protocol.ErrInvalidTarget, "Target building not found")
		return
	}
	attacker, ok := e.store.Get(id)
	if !ok {
		e.notify(id, protocol.ErrAuth, "Session expired. Please log in again.")
		return
	}
	defender, ok := e.store.Get(ownerID)
	if !ok || !defender.IsPlaced || !attacker.IsPlaced {
		e.notify(id, protocol.ErrNotPlaced, "Cannot attack players who haven't placed their city!")
		return
	}

	// Count only knights the attacker actually owns.
	attacking := 0
	_, _, ks, _ := e.store.View(id)
	owned := map[int64]bool{}
	for _, k := range ks {
		owned[k.ID] = true
	}
	for _, kid := range knightIDs {
		if owned[kid] {
			attacking++
		}
	}
	if attacking == 0 {
		e.notify(id, protocol.ErrBadRequest, "Send at least one knight to attack")
		return
	}

	damage := attacking * e.rules.Combat.AttackDamagePerKnight
	var (
		kind      string
		newHealth int
		destroyed bool
		razed     []int64
		fallen    bool
	)
	err := e.store.Mutate(ownerID, func(tx *state.Tx) error {
		b, ok := tx.Building(buildingID)
		if !ok {
			return rejectf(protocol.ErrInvalidTarget, "Target building not found")
		}
		kind = b.Kind
		newHealth = b.Health - damage
		if newHealth < 0 {
			newHealth = 0
		}
		if newHealth == 0 {
			destroyed = true
			tx.DeleteBuilding(buildingID)
			if b.Kind == rules.MainHouse {
				fallen = true
				tx.S.IsPlaced = false
				razed = tx.DeleteAllBuildings()
			}
			return nil
		}
		b.Health = newHealth
		tx.PutBuilding(b)
		return nil
	})
	if e.fail(id, err) {
		return
	}

	e.broadcast(e.event(protocol.EvBuildingHealth, map[string]any{
		"id":     buildingID,
		"health": newHealth,
	}))
	if destroyed {
		e.broadcast(e.event(protocol.EvBuildingDestroyed, map[string]any{"id": buildingID}))
		for _, rid := range razed {
			if rid == buildingID {
				continue
			}
			e.broadcast(e.event(protocol.EvBuildingDestroyed, map[string]any{"id": rid}))
		}
		e.notify(id, "", fmt.Sprintf("Destroyed enemy %s!", kind))
		if fallen {
			e.broadcastNotice(fmt.Sprintf("Kingdom of %s has fallen!", defender.Username))
		}
	}
	e.notify(ownerID, "", fmt.Sprintf("Your %s is being attacked!", kind))
	e.pushState(ownerID)
}

func (e *Engine) cmdStealLoot(id int64, targetID int64) {
	if targetID == id {
		e.notify(id, protocol.ErrInvalidTarget, "Cannot loot yourself")
		return
	}
	attacker, ok := e.store.Get(id)
	if !ok {
		e.notify(id, protocol.ErrAuth, "Session expired. Please log in again.")
		return
	}
	defender, ok := e.store.Get(targetID)
	if !ok || !defender.IsPlaced || !attacker.IsPlaced {
		e.notify(id, protocol.ErrNotPlaced, "Cannot loot players who haven't placed their city!")
		return
	}
	_, _, ks, _ := e.store.View(id)
	if len(ks) == 0 {
		e.notify(id, protocol.ErrBadRequest, "You need knights to carry the loot!")
		return
	}
	dist := math.Hypot(attacker.X-defender.CityX, attacker.Y-defender.CityY)
	if dist > e.rules.RaidRadius {
		e.notify(id, protocol.ErrOutOfRange, "Too far to steal loot! Get closer to the city center.")
		return
	}

	// Ordered pair of single-aggregate mutations: debit the defender (the
	// payer) first; the credit side cannot fail validation.
	var lootGold, lootFood float64
	err := e.store.Mutate(targetID, func(tx *state.Tx) error {
		lootGold = math.Floor(tx.S.Gold * 0.2)
		lootFood = math.Floor(tx.S.Food * 0.2)
		tx.S.Gold -= lootGold
		tx.S.Food -= lootFood
		return nil
	})
	if e.fail(id, err) {
		return
	}
	err = e.store.Mutate(id, func(tx *state.Tx) error {
		tx.S.Gold += lootGold
		tx.S.Food += lootFood
		return nil
	})
	if e.fail(id, err) {
		return
	}

	e.pushState(id)
	e.pushState(targetID)
	e.notify(id, "", fmt.Sprintf("LOOTED %s! Stole %.0fg and %.0ff!", defender.Username, lootGold, lootFood))
	e.notify(targetID, "", fmt.Sprintf("You have been looted by %s!", attacker.Username))
}

func (e *Engine) cmdSellFood(id int64, amount float64) {
	e.sellStock(id, amount, "food")
}

func (e *Engine) cmdSellWater(id int64, amount float64) {
	e.sellStock(id, amount, "water")
}

func (e *Engine) sellStock(id int64, amount float64, stock string) {
	amount = math.Floor(amount)
	if amount <= 0 {
		e.notify(id, protocol.ErrBadRequest, "Amount must be positive")
		return
	}
	var gain float64
	err := e.store.Mutate(id, func(tx *state.Tx) error {
		switch stock {
		case "food":
			if tx.S.Food < amount {
				return rejectf(protocol.ErrNoResource, "Not enough food")
			}
			gain = math.Floor(amount / 2)
			tx.S.Food -= amount
		case "water":
			if tx.S.Water < amount {
				return rejectf(protocol.ErrNoResource, "Not enough water")
			}
			gain = math.Floor(amount / 3)
			tx.S.Water -= amount
		}
		tx.S.Gold += gain
		return nil
	})
	if e.fail(id, err) {
		return
	}
	e.pushState(id)
	e.notify(id, "", fmt.Sprintf("Sold %.0f %s for %.0f gold", amount, stock, gain))
}
