package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules is the static configuration for the whole simulation: building
// costs/capacities, unit training, production and upkeep rates, combat
// constants. Pure data, loaded once at boot.
type Rules struct {
	CellSize     int     `yaml:"cell_size"`
	SpawnExtent  float64 `yaml:"spawn_extent"`
	RefundFactor float64 `yaml:"refund_factor"`
	RaidRadius   float64 `yaml:"raid_radius"`

	Start      Start               `yaml:"start"`
	Buildings  map[string]Building `yaml:"buildings"`
	Knight     Knight              `yaml:"knight"`
	Production Production          `yaml:"production"`
	Combat     Combat              `yaml:"combat"`
	Day        Day                 `yaml:"day"`
}

// Start is the stock every settlement is created with.
type Start struct {
	Gold   float64 `yaml:"gold"`
	Food   float64 `yaml:"food"`
	Water  float64 `yaml:"water"`
	People int     `yaml:"people"`
}

type Building struct {
	CostGold       int `yaml:"cost_gold"`
	CostFood       int `yaml:"cost_food"`
	Health         int `yaml:"health"`
	WorkersNeeded  int `yaml:"workers_needed,omitempty"`
	PopCapacity    int `yaml:"pop_capacity,omitempty"`
	KnightCapacity int `yaml:"knight_capacity,omitempty"`
}

type Knight struct {
	CostGold            int `yaml:"cost_gold"`
	CostFood            int `yaml:"cost_food"`
	Health              int `yaml:"health"`
	RetrainGoldPerLevel int `yaml:"retrain_gold_per_level"`
}

type Production struct {
	PeriodSec       int     `yaml:"period_sec"`
	WellWaterPerSec float64 `yaml:"well_water_per_sec"`
	FarmFoodPerSec  float64 `yaml:"farm_food_per_sec"`
}

type Combat struct {
	PeriodSec             int     `yaml:"period_sec"`
	MeleeDamage           int     `yaml:"melee_damage"`
	MeleeRange            float64 `yaml:"melee_range"`
	CannonDamage          int     `yaml:"cannon_damage"`
	CannonRange           float64 `yaml:"cannon_range"`
	AttackDamagePerKnight int     `yaml:"attack_damage_per_knight"`
}

type Day struct {
	LengthSec int `yaml:"length_sec"`

	KnightFood      int `yaml:"knight_food"`
	KnightWater     int `yaml:"knight_water"`
	WellWorkerFood  int `yaml:"well_worker_food"`
	WellWorkerWater int `yaml:"well_worker_water"`
	FarmWorkerFood  int `yaml:"farm_worker_food"`
	FarmWorkerWater int `yaml:"farm_worker_water"`

	BedsPerHouse int `yaml:"beds_per_house"`
}

// Building kind names. Every site that branches on kind must handle exactly
// this set; Load rejects tables that miss one.
const (
	MainHouse = "main_house"
	House     = "house"
	Farm      = "farm"
	Well      = "well"
	Barracks  = "barracks"
	Wall      = "wall"
	Door      = "door"
	Cannon    = "cannon"
)

var AllKinds = []string{MainHouse, House, Farm, Well, Barracks, Wall, Door, Cannon}

func IsKind(kind string) bool {
	for _, k := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func Load(path string) (Rules, error) {
	var r Rules
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("rules.yaml: %w", err)
	}
	if err := r.validate(); err != nil {
		return r, fmt.Errorf("rules.yaml: %w", err)
	}
	return r, nil
}

func (r Rules) validate() error {
	for _, k := range AllKinds {
		if _, ok := r.Buildings[k]; !ok {
			return fmt.Errorf("missing building kind %q", k)
		}
	}
	if r.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive")
	}
	if r.RefundFactor < 0 || r.RefundFactor > 1 {
		return fmt.Errorf("refund_factor must be in [0,1]")
	}
	if r.Day.LengthSec <= 0 {
		return fmt.Errorf("day length_sec must be positive")
	}
	return nil
}

// Defaults mirrors configs/rules.yaml so tests and snapshot resumes do not
// depend on the config file being present.
func Defaults() Rules {
	return Rules{
		CellSize:     50,
		SpawnExtent:  2000,
		RefundFactor: 0.8,
		RaidRadius:   150,
		Start:        Start{Gold: 1000, Food: 500, Water: 500, People: 5},
		Buildings: map[string]Building{
			MainHouse: {CostGold: 0, CostFood: 0, Health: 500},
			House:     {CostGold: 100, CostFood: 50, Health: 100, PopCapacity: 5},
			Farm:      {CostGold: 150, CostFood: 0, Health: 80, WorkersNeeded: 5},
			Well:      {CostGold: 100, CostFood: 0, Health: 80, WorkersNeeded: 1},
			Barracks:  {CostGold: 200, CostFood: 100, Health: 150, KnightCapacity: 3},
			Wall:      {CostGold: 50, CostFood: 0, Health: 300},
			Door:      {CostGold: 80, CostFood: 0, Health: 200},
			Cannon:    {CostGold: 300, CostFood: 50, Health: 150},
		},
		Knight: Knight{CostGold: 50, CostFood: 20, Health: 100, RetrainGoldPerLevel: 100},
		Production: Production{
			PeriodSec:       1,
			WellWaterPerSec: 1.6,
			FarmFoodPerSec:  1.0,
		},
		Combat: Combat{
			PeriodSec:             2,
			MeleeDamage:           10,
			MeleeRange:            100,
			CannonDamage:          20,
			CannonRange:           300,
			AttackDamagePerKnight: 10,
		},
		Day: Day{
			LengthSec:       300,
			KnightFood:      10,
			KnightWater:     20,
			WellWorkerFood:  5,
			WellWorkerWater: 10,
			FarmWorkerFood:  5,
			FarmWorkerWater: 5,
			BedsPerHouse:    5,
		},
	}
}
