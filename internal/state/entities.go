package state

import "time"

// Settlement is one participant's row: identity, stocks, world position and
// the one-way placement flag. Stocks are float64 because production rates are
// fractional (wells produce 1.6 water per second); non-negativity is enforced
// at every spend site.
type Settlement struct {
	ID          int64
	Username    string
	Gold        float64
	Food        float64
	Water       float64
	PeopleCount int

	X float64
	Y float64

	// City anchor, set once by place_city.
	CityX    float64
	CityY    float64
	IsPlaced bool

	// Protection window: while in the future the settlement is exempt from
	// raids. Declared in the schema as an extension point; no active
	// mechanic reads it yet.
	ProtectedUntil time.Time
}

// Building belongs to exactly one settlement. Grid X/Y are local cells
// relative to the owner's city anchor; WorldX/WorldY are derived at build
// time. A building at zero health is deleted, never kept as a dead row.
type Building struct {
	ID        int64
	OwnerID   int64
	Kind      string
	X         int
	Y         int
	WorldX    float64
	WorldY    float64
	Health    int
	MaxHealth int
	State     string // doors: "open" or "closed"
}

const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

// Knight is one military unit. Level only ever increases.
type Knight struct {
	ID        int64
	OwnerID   int64
	Name      string
	Level     int
	Health    int
	MaxHealth int
}
