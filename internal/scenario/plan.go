package scenario

import (
	"errors"
	"fmt"
	"math"

	"github.com/zeusync/simkernel/internal/core/physics"
)

var ErrInvalidConfig = errors.New("scenario: invalid config")

// Config describes the demo battle.
type Config struct {
	Seed           uint64  `yaml:"seed"`
	Waves          int     `yaml:"waves"`
	ShipsPerWave   int     `yaml:"ships_per_wave"`
	WaveSeconds    float64 `yaml:"wave_seconds"`
	ArenaRadius    float64 `yaml:"arena_radius"`
	ShipRadius     float64 `yaml:"ship_radius"`
	ShipSpeed      float64 `yaml:"ship_speed"`
	TurnRate       float64 `yaml:"turn_rate"`
	FireInterval   float64 `yaml:"fire_interval"`
	BulletSpeed    float64 `yaml:"bullet_speed"`
	BulletLifetime float64 `yaml:"bullet_lifetime"`
	StarBits       int     `yaml:"star_bits"`
}

func DefaultConfig() Config {
	return Config{
		Seed:           1,
		Waves:          3,
		ShipsPerWave:   6,
		WaveSeconds:    30,
		ArenaRadius:    300,
		ShipRadius:     12,
		ShipSpeed:      120,
		TurnRate:       3,
		FireInterval:   1,
		BulletSpeed:    400,
		BulletLifetime: 1.5,
		StarBits:       3,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Waves < 1 {
		errs = append(errs, fmt.Errorf("%w: waves must be at least 1", ErrInvalidConfig))
	}
	if c.ShipsPerWave < 1 {
		errs = append(errs, fmt.Errorf("%w: ships_per_wave must be at least 1", ErrInvalidConfig))
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"wave_seconds", c.WaveSeconds},
		{"arena_radius", c.ArenaRadius},
		{"ship_radius", c.ShipRadius},
		{"fire_interval", c.FireInterval},
		{"bullet_lifetime", c.BulletLifetime},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, p.name))
		}
	}
	if c.StarBits < 0 {
		errs = append(errs, fmt.Errorf("%w: star_bits must not be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// Role decides how far a ship is willing to shoot.
type Role string

const (
	RoleAttack Role = "attack"
	RoleSniper Role = "sniper"
)

func (r Role) Range() float64 {
	if r == RoleSniper {
		return 1000
	}
	return 400
}

// ShipPlan is everything needed to spawn one ship.
type ShipPlan struct {
	Wave   int
	Index  int
	Role   Role
	Health int
	Pos    physics.Vec2
	Vel    physics.Vec2
}

// PlanWave lays the wave's ships out on a ring around the origin, facing
// roughly inwards. Plans depend only on the config seed, wave and index.
func PlanWave(cfg Config, wave int) []ShipPlan {
	plans := make([]ShipPlan, cfg.ShipsPerWave)
	for i := range plans {
		rng := Rand(cfg.Seed, uint64(wave), uint64(i))
		angle := 2*math.Pi*float64(i)/float64(cfg.ShipsPerWave) + rng.Float64()*0.2
		pos := physics.FromAngle(angle).Mult(cfg.ArenaRadius * (0.6 + 0.4*rng.Float64()))
		heading := angle + math.Pi + (rng.Float64()-0.5)*0.5

		role := RoleAttack
		if rng.IntN(4) == 0 {
			role = RoleSniper
		}
		plans[i] = ShipPlan{
			Wave:   wave,
			Index:  i,
			Role:   role,
			Health: 2 + rng.IntN(3),
			Pos:    pos,
			Vel:    physics.FromAngle(heading).Mult(cfg.ShipSpeed),
		}
	}
	return plans
}
