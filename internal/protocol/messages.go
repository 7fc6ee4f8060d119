package protocol

// Command names accepted in CMD messages.
const (
	CmdPlaceCity       = "place_city"
	CmdMove            = "move"
	CmdBuild           = "build"
	CmdDestroyBuilding = "destroy_building"
	CmdToggleDoor      = "toggle_door"
	CmdTrainKnight     = "train_knight"
	CmdRetrainKnight   = "retrain_knight"
	CmdAttackBuilding  = "attack_building"
	CmdStealLoot       = "steal_loot"
	CmdSellFood        = "sell_food"
	CmdSellWater       = "sell_water"
)

// Global event names carried in EVENT messages.
const (
	EvNewBuilding        = "new_building"
	EvBuildingDestroyed  = "building_destroyed"
	EvBuildingHealth     = "world_building_update"
	EvUnitAttacked       = "unit_attacked"
	EvUnitKilled         = "unit_killed"
	EvPlayerMoved        = "player_moved"
	EvPlayerDisconnected = "player_disconnected"
)

// HELLO (client -> server): first message on a fresh connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Token           string `json:"token"`
}

// WELCOME (server -> client): handshake accepted.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SettlementID    int64       `json:"settlement_id"`
	Username        string      `json:"username"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	CellSize     int     `json:"cell_size"`
	SpawnExtent  float64 `json:"spawn_extent"`
	DayLengthSec int     `json:"day_length_sec"`
	RaidRadius   float64 `json:"raid_radius"`
}

// CMD (client -> server): one command addressed to the session's settlement.
// Fields beyond Name are optional and command-specific.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`

	X float64 `json:"x,omitempty"` // move: world position
	Y float64 `json:"y,omitempty"`

	GridX int `json:"grid_x,omitempty"` // build: local grid cell
	GridY int `json:"grid_y,omitempty"`

	BuildingType string  `json:"building_type,omitempty"`
	BuildingID   int64   `json:"building_id,omitempty"`
	KnightID     int64   `json:"knight_id,omitempty"`
	KnightIDs    []int64 `json:"knight_ids,omitempty"`
	TargetID     int64   `json:"target_id,omitempty"` // steal_loot: defender settlement
	KnightName   string  `json:"knight_name,omitempty"`
	Amount       float64 `json:"amount,omitempty"` // sell_food / sell_water
}

// STATE (server -> client, private): full snapshot of the session's own
// settlement. Sent on join and after any mutation that touches it.
type StateMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Settlement      SettlementView `json:"settlement"`
	Buildings       []BuildingView `json:"buildings"`
	Knights         []KnightView   `json:"knights"`
	DayTimeLeft     float64        `json:"day_time_left"`
}

// WORLD (server -> client): every building in the world, sent once on join so
// the client can render other settlements.
type WorldMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Buildings       []BuildingView `json:"buildings"`
}

// EVENT (server -> client, global): a world-visible delta.
type EventMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Name            string         `json:"name"`
	Data            map[string]any `json:"data,omitempty"`
}

// NOTICE (server -> client): plain-text notice. Private when addressed to one
// settlement's channel; also broadcast for world announcements.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code,omitempty"`
	Text            string `json:"text"`
}

type SettlementView struct {
	ID          int64   `json:"id"`
	Username    string  `json:"username"`
	Gold        float64 `json:"gold"`
	Food        float64 `json:"food"`
	Water       float64 `json:"water"`
	PeopleCount int     `json:"people_count"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CityX       float64 `json:"city_x"`
	CityY       float64 `json:"city_y"`
	IsPlaced    bool    `json:"is_placed"`
}

type BuildingView struct {
	ID        int64   `json:"id"`
	OwnerID   int64   `json:"owner_id"`
	Owner     string  `json:"owner,omitempty"`
	Kind      string  `json:"kind"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	WorldX    float64 `json:"world_x"`
	WorldY    float64 `json:"world_y"`
	Health    int     `json:"health"`
	MaxHealth int     `json:"max_health"`
	State     string  `json:"state,omitempty"` // doors: "open" or "closed"
}

type KnightView struct {
	ID        int64  `json:"id"`
	OwnerID   int64  `json:"owner_id"`
	Name      string `json:"name"`
	Level     int    `json:"level"`
	Health    int    `json:"health"`
	MaxHealth int    `json:"max_health"`
}
