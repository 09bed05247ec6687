package physics

// Circle is anything with a centre and a collision radius.
type Circle interface {
	Position() Vec2
	Radius() float64
}

// Disc is a plain value Circle, handy for queries and tests.
type Disc struct {
	Center Vec2
	R      float64
}

func (d Disc) Position() Vec2  { return d.Center }
func (d Disc) Radius() float64 { return d.R }
