package obstaclefilter

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/MShields1986/reuleaux/octomap"
	pc "github.com/MShields1986/reuleaux/pointcloud"
)

// VertexPattern selects the points emitted for every occupied leaf, in units of half the leaf's
// edge length around its center.
type VertexPattern int

const (
	// CornerVertices emits the center and the eight corners.
	CornerVertices VertexPattern = iota
	// FullLattice emits every point of the 3x3x3 lattice spanning the leaf: center, face centers,
	// edge midpoints and corners.
	FullLattice
)

var (
	cornerOffsets  = makeCornerOffsets()
	latticeOffsets = makeLatticeOffsets()
)

func makeCornerOffsets() []r3.Vector {
	offsets := []r3.Vector{{}}
	for _, dx := range []float64{-1, 1} {
		for _, dy := range []float64{-1, 1} {
			for _, dz := range []float64{-1, 1} {
				offsets = append(offsets, r3.Vector{X: dx, Y: dy, Z: dz})
			}
		}
	}
	return offsets
}

func makeLatticeOffsets() []r3.Vector {
	offsets := []r3.Vector{{}}
	for dx := -1.0; dx <= 1; dx++ {
		for dy := -1.0; dy <= 1; dy++ {
			for dz := -1.0; dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				offsets = append(offsets, r3.Vector{X: dx, Y: dy, Z: dz})
			}
		}
	}
	return offsets
}

func (vp VertexPattern) offsets() []r3.Vector {
	if vp == FullLattice {
		return latticeOffsets
	}
	return cornerOffsets
}

func (vp VertexPattern) String() string {
	if vp == FullLattice {
		return "full-lattice"
	}
	return "corners"
}

// ObstacleCloud converts the occupied leaves of tree into a deduplicated point cloud. Vertices
// shared by neighbouring leaves are kept once. A tree without occupied leaves yields an empty
// cloud.
func ObstacleCloud(tree *octomap.OcTree, pattern VertexPattern, logger golog.Logger) pc.PointCloud {
	offsets := pattern.offsets()
	cloud := pc.New()
	tree.IterateLeaves(tree.Depth(), func(leaf octomap.Leaf) bool {
		if !leaf.Occupied {
			return true
		}
		half := leaf.Size / 2
		for _, o := range offsets {
			cloud.Set(r3.Vector{
				X: leaf.Center.X + o.X*half,
				Y: leaf.Center.Y + o.Y*half,
				Z: leaf.Center.Z + o.Z*half,
			})
		}
		return true
	})
	logger.Infow("built obstacle point cloud", "vertices", cloud.Size(), "pattern", pattern.String())
	return cloud
}
