package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)
	test.That(t, pc.MetaData().Empty(), test.ShouldBeTrue)

	p0 := NewVector(0, 0, 0)
	test.That(t, pc.Set(p0), test.ShouldBeTrue)
	test.That(t, pc.At(0, 0, 0), test.ShouldBeTrue)
	test.That(t, pc.At(1, 0, 1), test.ShouldBeFalse)

	p1 := NewVector(1, 0, 1)
	test.That(t, pc.Set(p1), test.ShouldBeTrue)
	test.That(t, pc.At(1, 0, 1), test.ShouldBeTrue)

	p2 := NewVector(-1, -2, 1)
	test.That(t, pc.Set(p2), test.ShouldBeTrue)
	test.That(t, pc.Size(), test.ShouldEqual, 3)

	t.Run("duplicates are dropped", func(t *testing.T) {
		test.That(t, pc.Set(NewVector(1, 0, 1)), test.ShouldBeFalse)
		test.That(t, pc.Size(), test.ShouldEqual, 3)
	})

	t.Run("insertion order", func(t *testing.T) {
		test.That(t, Points(pc), test.ShouldResemble, []r3.Vector{p0, p1, p2})
	})

	t.Run("metadata", func(t *testing.T) {
		meta := pc.MetaData()
		test.That(t, meta.Empty(), test.ShouldBeFalse)
		test.That(t, meta.Min(), test.ShouldResemble, r3.Vector{X: -1, Y: -2, Z: 0})
		test.That(t, meta.Max(), test.ShouldResemble, r3.Vector{X: 1, Y: 0, Z: 1})
	})

	t.Run("iterate stops early", func(t *testing.T) {
		count := 0
		pc.Iterate(0, 0, func(p r3.Vector) bool {
			count++
			return false
		})
		test.That(t, count, test.ShouldEqual, 1)
	})
}

func TestPointCloudExactDedup(t *testing.T) {
	pc := New()
	// summed at run time: as constants 0.1+0.2 is exactly 0.3
	a, b := 0.1, 0.2
	test.That(t, pc.Set(NewVector(a+b, 0, 0)), test.ShouldBeTrue)
	test.That(t, pc.Set(NewVector(0.3, 0, 0)), test.ShouldBeTrue)
	test.That(t, pc.At(a+b, 0, 0), test.ShouldBeTrue)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	// positive and negative zero compare equal
	test.That(t, pc.Set(NewVector(math.Copysign(0, -1), 0, 0)), test.ShouldBeTrue)
	test.That(t, pc.Set(NewVector(0, 0, 0)), test.ShouldBeFalse)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
}

func TestPointCloudBatches(t *testing.T) {
	pc := NewWithPrealloc(10)
	for i := 0; i < 10; i++ {
		pc.Set(NewVector(float64(i), 0, 0))
	}
	var seen []float64
	for batch := 0; batch < 3; batch++ {
		pc.Iterate(3, batch, func(p r3.Vector) bool {
			seen = append(seen, p.X)
			return true
		})
	}
	test.That(t, seen, test.ShouldResemble, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})

	count := 0
	pc.Iterate(20, 15, func(p r3.Vector) bool {
		count++
		return true
	})
	test.That(t, count, test.ShouldEqual, 0)
}
