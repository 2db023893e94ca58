package obstaclefilter

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MShields1986/reuleaux/octree"
	pc "github.com/MShields1986/reuleaux/pointcloud"
)

// Index answers proximity queries over an obstacle point set at a fixed resolution. It is built
// once and never modified.
type Index struct {
	resolution float64
	voxels     *octree.Octree
	kd         *pc.KDTree
}

// NewIndex builds an index over cloud whose voxel cells have edge resolution. An empty cloud
// gives an index that never matches.
func NewIndex(cloud pc.PointCloud, resolution float64, logger golog.Logger) (*Index, error) {
	if !(resolution > 0) {
		return nil, errors.Errorf("index resolution must be positive, got %v", resolution)
	}
	voxels, err := octree.NewFromPointCloud(cloud, resolution, logger)
	if err != nil {
		return nil, errors.Wrap(err, "error building obstacle octree")
	}
	return &Index{
		resolution: resolution,
		voxels:     voxels,
		kd:         pc.ToKDTree(cloud),
	}, nil
}

// Resolution returns the voxel edge length of the index.
func (idx *Index) Resolution() float64 {
	return idx.resolution
}

// Size returns the number of indexed points.
func (idx *Index) Size() int {
	return idx.kd.Size()
}

// VoxelSearch returns the points in the grid cell containing p.
func (idx *Index) VoxelSearch(p r3.Vector) []r3.Vector {
	return idx.voxels.VoxelSearch(p)
}

// RadiusSearch returns the points within Euclidean distance r of p.
func (idx *Index) RadiusSearch(p r3.Vector, r float64) []r3.Vector {
	return idx.kd.RadiusNearestNeighbors(p, r)
}
