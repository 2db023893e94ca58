// Package octree implements a search octree over a pointcloud whose leaves are the cells of a fixed
// resolution voxel grid, for answering "is anything in the same voxel" queries.
package octree

// Each node in the octree is either an internal node which links to other nodes, is an empty node with
// no points or further links, or is a filled leaf which is exactly one grid cell and holds every point
// that falls inside that cell.
const (
	InternalNode = NodeType(iota)
	LeafNodeEmpty
	LeafNodeFilled

	// maxSpan bounds the number of cells along one edge of the root.
	maxSpan = int64(1) << 40
)

// NodeType represents the possible types of nodes in an octree.
type NodeType uint8
