package sim

import (
	"warcity.io/internal/protocol"
	"warcity.io/internal/state"
)

func (e *Engine) event(name string, data map[string]any) protocol.EventMsg {
	return protocol.EventMsg{
		Type:            protocol.TypeEvent,
		ProtocolVersion: protocol.Version,
		Name:            name,
		Data:            data,
	}
}

func settlementView(s state.Settlement) protocol.SettlementView {
	return protocol.SettlementView{
		ID:          s.ID,
		Username:    s.Username,
		Gold:        s.Gold,
		Food:        s.Food,
		Water:       s.Water,
		PeopleCount: s.PeopleCount,
		X:           s.X,
		Y:           s.Y,
		CityX:       s.CityX,
		CityY:       s.CityY,
		IsPlaced:    s.IsPlaced,
	}
}

func buildingView(b state.Building, owner string) protocol.BuildingView {
	return protocol.BuildingView{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Owner:     owner,
		Kind:      b.Kind,
		X:         b.X,
		Y:         b.Y,
		WorldX:    b.WorldX,
		WorldY:    b.WorldY,
		Health:    b.Health,
		MaxHealth: b.MaxHealth,
		State:     b.State,
	}
}

func knightView(k state.Knight) protocol.KnightView {
	return protocol.KnightView{
		ID:        k.ID,
		OwnerID:   k.OwnerID,
		Name:      k.Name,
		Level:     k.Level,
		Health:    k.Health,
		MaxHealth: k.MaxHealth,
	}
}

func newBuildingData(b state.Building, owner string) map[string]any {
	return map[string]any{
		"building": buildingView(b, owner),
	}
}

func unitAttackedData(k state.Knight, damage int, x, y float64) map[string]any {
	return map[string]any{
		"type":   "knight",
		"id":     k.ID,
		"damage": damage,
		"x":      x,
		"y":      y,
	}
}

func unitKilledData(k state.Knight) map[string]any {
	return map[string]any{
		"type": "knight",
		"id":   k.ID,
	}
}
