package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"warcity.io/internal/protocol"
	"warcity.io/internal/rules"
	"warcity.io/internal/state"
)

// errSkip aborts a tick mutation that has nothing to do for an aggregate.
var errSkip = errors.New("no change")

// stepProduction adds well/farm output to every settlement's stocks. One
// firing per production period.
func (e *Engine) stepProduction() {
	for _, id := range e.store.IDs() {
		err := e.store.Mutate(id, func(tx *state.Tx) error {
			waterGain := float64(tx.CountBuildings(rules.Well)) * e.rules.Production.WellWaterPerSec * float64(e.rules.Production.PeriodSec)
			foodGain := float64(tx.CountBuildings(rules.Farm)) * e.rules.Production.FarmFoodPerSec * float64(e.rules.Production.PeriodSec)
			if waterGain == 0 && foodGain == 0 {
				return errSkip
			}
			tx.S.Water += waterGain
			tx.S.Food += foodGain
			return nil
		})
		if err == nil {
			e.pushState(id)
		}
	}
}

// stepCombat runs the two combat sub-passes: cannon fire, then melee. A
// failing aggregate never aborts the rest of the pass.
func (e *Engine) stepCombat() {
	settlements := e.store.Settlements()
	placed := make([]state.Settlement, 0, len(settlements))
	for _, s := range settlements {
		if s.IsPlaced {
			placed = append(placed, s)
		}
	}

	// Cannon fire: each cannon damages one random knight of the first
	// non-owner settlement in range. At most one target per cannon per
	// firing.
	for _, b := range e.store.AllBuildings() {
		if b.Kind != rules.Cannon {
			continue
		}
		for _, target := range placed {
			if target.ID == b.OwnerID {
				continue
			}
			if math.Hypot(b.WorldX-target.X, b.WorldY-target.Y) >= e.rules.Combat.CannonRange {
				continue
			}
			if e.damageRandomKnight(target.ID, e.rules.Combat.CannonDamage, target.X, target.Y) {
				break
			}
		}
	}

	// Melee: every knight within range of a non-owner settlement's position
	// damages one random knight of that settlement.
	for _, s := range settlements {
		knights := e.knightCount(s.ID)
		for i := 0; i < knights; i++ {
			for _, other := range placed {
				if other.ID == s.ID {
					continue
				}
				if math.Hypot(s.X-other.X, s.Y-other.Y) >= e.rules.Combat.MeleeRange {
					continue
				}
				e.damageRandomKnight(other.ID, e.rules.Combat.MeleeDamage, other.X, other.Y)
			}
		}
	}
}

func (e *Engine) knightCount(id int64) int {
	_, _, ks, ok := e.store.View(id)
	if !ok {
		return 0
	}
	return len(ks)
}

// damageRandomKnight applies damage to one random knight of the given
// settlement. Returns false when the settlement has no knights left.
func (e *Engine) damageRandomKnight(ownerID int64, damage int, x, y float64) bool {
	var victim state.Knight
	var killed bool
	err := e.store.Mutate(ownerID, func(tx *state.Tx) error {
		ks := tx.Knights()
		if len(ks) == 0 {
			return errSkip
		}
		victim = ks[rand.Intn(len(ks))]
		victim.Health -= damage
		if victim.Health <= 0 {
			killed = true
			tx.DeleteKnight(victim.ID)
			return nil
		}
		tx.PutKnight(victim)
		return nil
	})
	if err != nil {
		return false
	}
	e.broadcast(e.event(protocol.EvUnitAttacked, unitAttackedData(victim, damage, x, y)))
	if killed {
		e.broadcast(e.event(protocol.EvUnitKilled, unitKilledData(victim)))
	}
	e.pushState(ownerID)
	return true
}

// stepDayCycle resets the shared day timer and charges every settlement its
// upkeep. A settlement that cannot pay suffers exactly one unit of attrition:
// its first knight, or failing that its first farm.
func (e *Engine) stepDayCycle() {
	e.dayStart.Store(time.Now().UnixNano())

	for _, id := range e.store.IDs() {
		var notice string
		var lostFarm int64
		err := e.store.Mutate(id, func(tx *state.Tx) error {
			knights := tx.Knights()
			wells := tx.CountBuildings(rules.Well)
			farms := tx.CountBuildings(rules.Farm)

			day := e.rules.Day
			wellWorkers := wells * e.rules.Buildings[rules.Well].WorkersNeeded
			farmWorkers := farms * e.rules.Buildings[rules.Farm].WorkersNeeded
			needFood := float64(len(knights)*day.KnightFood + wellWorkers*day.WellWorkerFood + farmWorkers*day.FarmWorkerFood)
			needWater := float64(len(knights)*day.KnightWater + wellWorkers*day.WellWorkerWater + farmWorkers*day.FarmWorkerWater)

			if tx.S.Food < needFood || tx.S.Water < needWater {
				notice = "WARNING: Not enough resources to sustain kingdom! A knight has left..."
				if len(knights) > 0 {
					tx.DeleteKnight(knights[0].ID)
					return nil
				}
				for _, b := range tx.Buildings() {
					if b.Kind == rules.Farm {
						notice = "WARNING: Not enough resources to sustain kingdom! A farm has been abandoned..."
						lostFarm = b.ID
						tx.DeleteBuilding(b.ID)
						return nil
					}
				}
				return nil
			}
			tx.S.Food -= needFood
			tx.S.Water -= needWater
			notice = fmt.Sprintf("A new day has passed. Consumed %.0f food and %.0f water.", needFood, needWater)
			return nil
		})
		if err != nil {
			e.logf("day cycle failed for settlement %d: %v", id, err)
			continue
		}
		if lostFarm != 0 {
			e.broadcast(e.event(protocol.EvBuildingDestroyed, map[string]any{"id": lostFarm}))
		}
		if notice != "" {
			e.notify(id, "", notice)
		}
		e.pushState(id)
	}
}
