package octree

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	pc "github.com/MShields1986/reuleaux/pointcloud"
)

// Octree is a static search octree. Its root is a cube of span*span*span grid cells whose
// lowest cell is min; leaves are single cells of edge resolution.
type Octree struct {
	logger     golog.Logger
	root       *basicOctree
	resolution float64
	size       int
}

// basicOctree is one node of the tree covering span cells per axis starting at cell min.
type basicOctree struct {
	node basicOctreeNode
	min  pc.VoxelCoords
	span int64
}

// basicOctreeNode is a struct comprised of the type of node, children nodes (should they exist) and the
// points stored in it when it is a filled leaf.
type basicOctreeNode struct {
	nodeType NodeType
	children []*basicOctree
	points   []r3.Vector
}

// New creates an empty octree able to hold points within the cell bounds of meta.
func New(meta pc.MetaData, resolution float64, logger golog.Logger) (*Octree, error) {
	if resolution <= 0 {
		return nil, errors.Errorf("invalid resolution (%.4f) for octree", resolution)
	}
	octree := &Octree{logger: logger, resolution: resolution}
	if meta.Empty() {
		return octree, nil
	}

	minCell := pc.GetVoxelCoordinates(meta.Min(), resolution)
	maxCell := pc.GetVoxelCoordinates(meta.Max(), resolution)
	extent := maxCell.I - minCell.I
	if d := maxCell.J - minCell.J; d > extent {
		extent = d
	}
	if d := maxCell.K - minCell.K; d > extent {
		extent = d
	}
	extent++
	if extent <= 0 || extent > maxSpan {
		return nil, errors.Errorf("point cloud extent of %d cells is too large for resolution %.4f", extent, resolution)
	}
	span := int64(1)
	for span < extent {
		span <<= 1
	}
	octree.root = &basicOctree{node: newLeafNodeEmpty(), min: minCell, span: span}
	return octree, nil
}

// NewFromPointCloud builds an octree holding every point of cloud.
func NewFromPointCloud(cloud pc.PointCloud, resolution float64, logger golog.Logger) (*Octree, error) {
	octree, err := New(cloud.MetaData(), resolution, logger)
	if err != nil {
		return nil, err
	}
	cloud.Iterate(0, 0, func(p r3.Vector) bool {
		err = octree.Set(p)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debugf("built octree of %d points at resolution %.4f", octree.size, resolution)
	return octree, nil
}

// Size returns the number of points stored in the octree.
func (octree *Octree) Size() int {
	return octree.size
}

// Resolution returns the edge length of a leaf cell.
func (octree *Octree) Resolution() float64 {
	return octree.resolution
}

// Set adds p to the leaf cell containing it. Points outside the bounds given at construction
// are rejected.
func (octree *Octree) Set(p r3.Vector) error {
	cell := pc.GetVoxelCoordinates(p, octree.resolution)
	if octree.root == nil || !octree.root.checkPointPlacement(cell) {
		return errors.Errorf("error point %v is outside the bounds of this octree", p)
	}
	if err := octree.root.set(cell, p); err != nil {
		return err
	}
	octree.size++
	return nil
}

// VoxelSearch returns the points that share p's grid cell.
func (octree *Octree) VoxelSearch(p r3.Vector) []r3.Vector {
	cell := pc.GetVoxelCoordinates(p, octree.resolution)
	if octree.root == nil || !octree.root.checkPointPlacement(cell) {
		return nil
	}
	return octree.root.at(cell)
}

func (node *basicOctree) set(cell pc.VoxelCoords, p r3.Vector) error {
	switch node.node.nodeType {
	case InternalNode:
		child := node.node.children[node.childIndex(cell)]
		return child.set(cell, p)

	case LeafNodeEmpty:
		if node.span == 1 {
			node.node = newLeafNodeFilled(p)
			return nil
		}
		if err := node.splitIntoOctants(); err != nil {
			return errors.Wrap(err, "error in splitting octree into new octants")
		}
		return node.set(cell, p)

	case LeafNodeFilled:
		node.node.points = append(node.node.points, p)
		return nil
	}
	return errors.Errorf("error invalid node type %d", node.node.nodeType)
}

func (node *basicOctree) at(cell pc.VoxelCoords) []r3.Vector {
	switch node.node.nodeType {
	case InternalNode:
		return node.node.children[node.childIndex(cell)].at(cell)
	case LeafNodeFilled:
		return node.node.points
	case LeafNodeEmpty:
	}
	return nil
}

// childIndex picks the octant holding cell: bit 0 is the upper x half, bit 1 upper y, bit 2 upper z.
func (node *basicOctree) childIndex(cell pc.VoxelCoords) int {
	half := node.span / 2
	idx := 0
	if cell.I >= node.min.I+half {
		idx |= 1
	}
	if cell.J >= node.min.J+half {
		idx |= 2
	}
	if cell.K >= node.min.K+half {
		idx |= 4
	}
	return idx
}

// splitIntoOctants turns an empty node into an internal node with eight empty children.
func (node *basicOctree) splitIntoOctants() error {
	if node.node.nodeType != LeafNodeEmpty {
		return errors.New("only empty nodes can be split")
	}
	if node.span < 2 {
		return errors.New("a single cell cannot be split")
	}
	half := node.span / 2
	children := make([]*basicOctree, 0, 8)
	for i := 0; i < 8; i++ {
		childMin := node.min
		if i&1 != 0 {
			childMin.I += half
		}
		if i&2 != 0 {
			childMin.J += half
		}
		if i&4 != 0 {
			childMin.K += half
		}
		children = append(children, &basicOctree{node: newLeafNodeEmpty(), min: childMin, span: half})
	}
	node.node = newInternalNode(children)
	return nil
}

// checkPointPlacement reports whether cell lies within the node.
func (node *basicOctree) checkPointPlacement(cell pc.VoxelCoords) bool {
	return cell.I >= node.min.I && cell.I < node.min.I+node.span &&
		cell.J >= node.min.J && cell.J < node.min.J+node.span &&
		cell.K >= node.min.K && cell.K < node.min.K+node.span
}

func newInternalNode(children []*basicOctree) basicOctreeNode {
	return basicOctreeNode{nodeType: InternalNode, children: children}
}

func newLeafNodeEmpty() basicOctreeNode {
	return basicOctreeNode{nodeType: LeafNodeEmpty}
}

func newLeafNodeFilled(p r3.Vector) basicOctreeNode {
	return basicOctreeNode{nodeType: LeafNodeFilled, points: []r3.Vector{p}}
}
