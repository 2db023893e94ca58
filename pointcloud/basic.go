package pointcloud

import (
	"github.com/golang/geo/r3"
)

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points and a map of positions already present.
type basicPointCloud struct {
	points   []r3.Vector
	indexMap map[r3.Vector]struct{}
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]r3.Vector, 0, size),
		indexMap: make(map[r3.Vector]struct{}, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) bool {
	_, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	return ok
}

// Set compares coordinates exactly; points that differ only by floating point
// noise are kept as distinct points.
func (cloud *basicPointCloud) Set(p r3.Vector) bool {
	if _, ok := cloud.indexMap[p]; ok {
		return false
	}
	cloud.indexMap[p] = struct{}{}
	cloud.points = append(cloud.points, p)
	cloud.meta.Merge(p)
	return true
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector) bool) {
	start, end := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		start = myBatch * batchSize
		end = start + batchSize
		if end > len(cloud.points) {
			end = len(cloud.points)
		}
	}
	for i := start; i < end; i++ {
		if !fn(cloud.points[i]) {
			return
		}
	}
}
