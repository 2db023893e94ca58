// Package pointcloud defines a point cloud and provides an implementation for one.
//
// The basic implementation is a set: points are deduplicated by exact equality of
// their coordinates and iterated in insertion order.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns bounds that any merged point will replace.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MinZ: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
		MaxZ: math.Inf(-1),
	}
}

// Merge grows the bounds to include p.
func (meta *MetaData) Merge(p r3.Vector) {
	meta.MinX = math.Min(meta.MinX, p.X)
	meta.MinY = math.Min(meta.MinY, p.Y)
	meta.MinZ = math.Min(meta.MinZ, p.Z)
	meta.MaxX = math.Max(meta.MaxX, p.X)
	meta.MaxY = math.Max(meta.MaxY, p.Y)
	meta.MaxZ = math.Max(meta.MaxZ, p.Z)
}

// Empty reports whether no point was ever merged.
func (meta MetaData) Empty() bool {
	return meta.MinX > meta.MaxX
}

// Min returns the lower corner of the bounds.
func (meta MetaData) Min() r3.Vector {
	return r3.Vector{X: meta.MinX, Y: meta.MinY, Z: meta.MinZ}
}

// Max returns the upper corner of the bounds.
func (meta MetaData) Max() r3.Vector {
	return r3.Vector{X: meta.MaxX, Y: meta.MaxY, Z: meta.MaxZ}
}

// PointCloud is a general purpose container of unique points.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud. It returns false if the
	// point was already present.
	Set(p r3.Vector) bool

	// At returns whether a point exists at the given position.
	At(x, y, z float64) bool

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool)
}

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Points returns a copy of every point in the cloud in iteration order.
func Points(cloud PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}
