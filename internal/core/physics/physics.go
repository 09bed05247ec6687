package physics

import (
	"math"

	"github.com/jakecoffman/cp"
)

// Vec2 is the chipmunk vector so kernel positions interoperate with cp bodies.
type Vec2 = cp.Vector

var Zero = Vec2{}

func V(x, y float64) Vec2 { return Vec2{X: x, Y: y} }

// FromAngle returns the unit vector pointing at angle radians.
func FromAngle(angle float64) Vec2 { return cp.ForAngle(angle) }

// Distance2 computes Euclidean distance between two 2D points.
func Distance2(x1, y1, x2, y2 float64) float64 { return math.Hypot(x2-x1, y2-y1) }

// DistanceSq is the squared distance between a and b.
func DistanceSq(a, b Vec2) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// Overlaps reports whether two circles intersect. Touching circles do not.
func Overlaps(a Vec2, ra float64, b Vec2, rb float64) bool {
	sum := ra + rb
	return DistanceSq(a, b) < sum*sum
}

// CirclesOverlap is Overlaps for two Circle values.
func CirclesOverlap(a, b Circle) bool {
	return Overlaps(a.Position(), a.Radius(), b.Position(), b.Radius())
}

// Bounds returns the axis-aligned extent of c along the X and Y axes.
func Bounds(c Circle) (minX, maxX, minY, maxY float64) {
	p, r := c.Position(), c.Radius()
	return p.X - r, p.X + r, p.Y - r, p.Y + r
}

// ScaledTo returns v with its length set to l; the zero vector stays zero.
func ScaledTo(v Vec2, l float64) Vec2 {
	n := v.Length()
	if n == 0 {
		return Zero
	}
	return v.Mult(l / n)
}

// Rotated rotates v by angle radians.
func Rotated(v Vec2, angle float64) Vec2 {
	return v.Rotate(cp.ForAngle(angle))
}
