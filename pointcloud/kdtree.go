package pointcloud

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// KDTree is a static kd-tree over the points of a cloud. It is built once and
// never updated.
type KDTree struct {
	tree *kdtree.Tree
	size int
}

// ToKDTree builds a KDTree from the points of the given cloud.
func ToKDTree(cloud PointCloud) *KDTree {
	pts := make(kdtree.Points, 0, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		pts = append(pts, kdtree.Point{p.X, p.Y, p.Z})
		return true
	})
	if len(pts) == 0 {
		return &KDTree{}
	}
	return &KDTree{tree: kdtree.New(pts, false), size: len(pts)}
}

// Size returns the number of points in the tree.
func (kd *KDTree) Size() int {
	return kd.size
}

// RadiusNearestNeighbors returns every point whose Euclidean distance to query
// is at most radius. Order is unspecified.
func (kd *KDTree) RadiusNearestNeighbors(query r3.Vector, radius float64) []r3.Vector {
	if kd.size == 0 || radius < 0 {
		return nil
	}
	// kdtree.Point distances are squared.
	keeper := kdtree.NewDistKeeper(radius * radius)
	kd.tree.NearestSet(keeper, kdtree.Point{query.X, query.Y, query.Z})

	var found []r3.Vector
	for _, c := range keeper.Heap {
		// the keeper is seeded with a sentinel that carries no point
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(kdtree.Point)
		found = append(found, r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	}
	return found
}
