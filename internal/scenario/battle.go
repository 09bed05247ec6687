// Package scenario is a small deterministic battle built on the kernel:
// ships steer at each other and shoot, bullets damage ships, destroyed ships
// drop star bits that fly to whichever ship touches them.
package scenario

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/zeusync/simkernel/internal/core/collision"
	"github.com/zeusync/simkernel/internal/core/entity"
	"github.com/zeusync/simkernel/internal/core/nursery"
	"github.com/zeusync/simkernel/internal/core/observability/log"
	"github.com/zeusync/simkernel/internal/core/physics"
	"github.com/zeusync/simkernel/internal/core/sim"
)

const (
	bulletRadius  = 2
	starBitRadius = 6
	// a star bit is collected once it gets this close to its collector
	pickupDistance = 16
	aimTolerance   = 0.2
)

type Stats struct {
	Waves     int `json:"waves"`
	Spawned   int `json:"spawned"`
	Shots     int `json:"shots"`
	Hits      int `json:"hits"`
	Kills     int `json:"kills"`
	Collected int `json:"collected"`
	Survivors int `json:"survivors"`
}

type Battle struct {
	cfg    Config
	world  *sim.World
	group  *collision.Group
	logger log.Log
	rng    *rand.Rand

	owner     map[*entity.Entity]*entity.Entity
	target    map[*entity.Entity]*entity.Entity
	collector map[*entity.Entity]*entity.Entity
	score     map[*entity.Entity]int
	stats     Stats
}

type Option func(*Battle)

func WithLogger(l log.Log) Option {
	return func(b *Battle) { b.logger = l }
}

// New registers the battle's collision handlers on w's group. It must be
// called before the world runs.
func New(w *sim.World, cfg Config, opts ...Option) (*Battle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Battle{
		cfg:       cfg,
		world:     w,
		group:     w.Group(),
		logger:    log.NewNop(),
		rng:       Rand(cfg.Seed),
		owner:     make(map[*entity.Entity]*entity.Entity),
		target:    make(map[*entity.Entity]*entity.Entity),
		collector: make(map[*entity.Entity]*entity.Entity),
		score:     make(map[*entity.Entity]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(log.String("component", "scenario"))

	if err := b.group.RegisterHandler(entity.TagShip, entity.TagBullet, b.onShot); err != nil {
		return nil, err
	}
	if err := b.group.RegisterHandler(entity.TagShip, entity.TagStarBit, b.onCollect); err != nil {
		return nil, err
	}
	return b, nil
}

// Stats reports battle counters. Survivors is the ship count at the end of
// the latest wave.
func (b *Battle) Stats() Stats { return b.stats }

// Score is the number of star bits ship has collected. A ship's score is
// dropped when its life ends.
func (b *Battle) Score(ship *entity.Entity) int { return b.score[ship] }

// Run is the battle's main behavior. Each wave lasts until at most one ship
// is left or the wave timer runs out; survivors carry over.
func (b *Battle) Run(t *nursery.Task) error {
	for wave := range b.cfg.Waves {
		for _, p := range PlanWave(b.cfg, wave) {
			b.SpawnShip(p)
		}
		b.stats.Waves++
		b.logger.Info("wave started", log.Int("wave", wave), log.Int("ships", b.cfg.ShipsPerWave))

		timedOut, err := t.WithTimeout(b.cfg.WaveSeconds, fmt.Sprintf("wave-%d", wave), func(t *nursery.Task) error {
			for range t.Frames() {
				if b.group.Count(entity.TagShip) <= 1 {
					return nil
				}
			}
			return t.Err()
		})
		if err != nil {
			return err
		}
		b.stats.Survivors = b.group.Count(entity.TagShip)
		b.logger.Info("wave finished",
			log.Int("wave", wave),
			log.Bool("timed_out", timedOut),
			log.Int("survivors", b.stats.Survivors),
			log.Int("kills", b.stats.Kills))
	}
	return nil
}

// SpawnShip puts a ship into the world with its driving, steering,
// targeting and weapon behaviors.
func (b *Battle) SpawnShip(p ShipPlan) *entity.Entity {
	ship := entity.New(fmt.Sprintf("ship-%d-%d", p.Wave, p.Index), p.Pos, b.cfg.ShipRadius)
	ship.Vel = p.Vel
	ship.Angle = ship.Heading()
	ship.Health = p.Health
	b.stats.Spawned++

	b.world.Live(ship, entity.TagShip,
		entity.Drive(ship, b.cfg.TurnRate),
		entity.Steer(ship, func() (physics.Vec2, bool) { return b.targetOf(ship) }),
		entity.Every(1, func() { b.pickTarget(ship) }),
		b.shoot(ship, p.Role),
		b.cleanup(func() {
			delete(b.target, ship)
			delete(b.score, ship)
		}),
	)
	return ship
}

func (b *Battle) targetOf(ship *entity.Entity) (physics.Vec2, bool) {
	tgt := b.target[ship]
	if tgt == nil || !b.group.IsTracked(tgt) {
		b.pickTarget(ship)
		if tgt = b.target[ship]; tgt == nil {
			return physics.Zero, false
		}
	}
	return tgt.Pos, true
}

func (b *Battle) pickTarget(ship *entity.Entity) {
	for range 4 {
		c, ok := b.group.ChooseRandom(entity.TagShip, b.rng)
		if !ok {
			break
		}
		if c != collision.Body(ship) {
			b.target[ship] = c.(*entity.Entity)
			return
		}
	}
	// few ships left; fall back to the nearest other one
	var best *entity.Entity
	bestD := math.Inf(1)
	for _, m := range b.group.Members(entity.TagShip) {
		o := m.(*entity.Entity)
		if o == ship {
			continue
		}
		if d := physics.DistanceSq(o.Pos, ship.Pos); d < bestD {
			best, bestD = o, d
		}
	}
	if best == nil {
		delete(b.target, ship)
		return
	}
	b.target[ship] = best
}

func (b *Battle) shoot(ship *entity.Entity, role Role) nursery.Behavior {
	return func(t *nursery.Task) error {
		for {
			for !b.inSights(ship, role) {
				if err := t.Sleep(0.1); err != nil {
					return err
				}
			}
			b.fire(ship)
			if err := t.Sleep(b.cfg.FireInterval); err != nil {
				return err
			}
		}
	}
}

func (b *Battle) inSights(ship *entity.Entity, role Role) bool {
	p, ok := b.targetOf(ship)
	if !ok {
		return false
	}
	return p.Sub(ship.Pos).Length() < role.Range() && math.Abs(ship.AngleTo(p)) < aimTolerance
}

func (b *Battle) fire(ship *entity.Entity) {
	dir := physics.FromAngle(ship.Heading())
	bullet := entity.New(ship.Name+"/bullet", ship.Pos.Add(dir.Mult(ship.R+bulletRadius)), bulletRadius)
	bullet.Vel = ship.Vel.Add(dir.Mult(b.cfg.BulletSpeed))
	b.owner[bullet] = ship
	b.stats.Shots++

	b.world.Live(bullet, entity.TagBullet,
		entity.Drift(bullet, 1),
		entity.Lifetime(b.cfg.BulletLifetime),
		b.cleanup(func() { delete(b.owner, bullet) }),
	)
}

// onShot handles ship/bullet contact. Ships are immune to their own bullets.
func (b *Battle) onShot(sb, bb collision.Body) {
	ship, bullet := sb.(*entity.Entity), bb.(*entity.Entity)
	if b.owner[bullet] == ship {
		return
	}
	b.stats.Hits++
	bullet.Kill()
	if ship.Damage(1) {
		b.destroy(ship)
	}
}

func (b *Battle) destroy(ship *entity.Entity) {
	b.stats.Kills++
	pos := ship.Pos
	b.logger.Debug("ship destroyed", log.String("ship", ship.Name), log.Float64("x", pos.X), log.Float64("y", pos.Y))
	ship.Kill()

	for i := range b.cfg.StarBits {
		bit := entity.New(fmt.Sprintf("%s/bit-%d", ship.Name, i), pos, starBitRadius)
		bit.Vel = physics.FromAngle(b.rng.Float64() * 2 * math.Pi).Mult(50 * b.rng.Float64())
		b.world.Live(bit, entity.TagStarBit, b.starBit(bit))
	}
}

// onCollect hands a star bit to the first ship touching it. The bit stops
// colliding right away and flies to its collector.
func (b *Battle) onCollect(sb, bb collision.Body) {
	ship, bit := sb.(*entity.Entity), bb.(*entity.Entity)
	if b.collector[bit] != nil {
		return
	}
	b.collector[bit] = ship
	b.group.Untrack(bit)
}

func (b *Battle) starBit(bit *entity.Entity) nursery.Behavior {
	return func(t *nursery.Task) error {
		for dt := range t.Frames() {
			if b.collector[bit] != nil {
				break
			}
			bit.Vel = bit.Vel.Mult(math.Pow(0.5, dt))
			bit.Pos = bit.Pos.Add(bit.Vel.Mult(dt))
		}
		if err := t.Err(); err != nil {
			return err
		}

		collector := b.collector[bit]
		defer delete(b.collector, bit)
		for dt := range t.Frames() {
			if !collector.Alive() {
				t.Scope().Cancel()
				return nil
			}
			sep := bit.Pos.Sub(collector.Pos)
			closer := sep.Length() * math.Pow(0.001, dt)
			if closer < pickupDistance {
				b.score[collector]++
				b.stats.Collected++
				t.Scope().Cancel()
				return nil
			}
			bit.Pos = collector.Pos.Add(physics.ScaledTo(sep, closer))
		}
		return t.Err()
	}
}

// cleanup runs fn when the life it is part of ends.
func (b *Battle) cleanup(fn func()) nursery.Behavior {
	return func(t *nursery.Task) error {
		defer fn()
		for range t.Frames() {
		}
		return t.Err()
	}
}
