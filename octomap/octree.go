// Package octomap models the sparse occupancy octree published by octomap and provides its binary
// stream and file codecs. Only occupancy is modelled; log-odds and colors are not kept.
package octomap

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	// TreeDepth is the fixed depth of an octomap tree. Leaves at this depth have the tree's
	// resolution as edge length.
	TreeDepth = 16
	treeMaxVal = 1 << (TreeDepth - 1)
)

// Key addresses a cell at maximum depth. Each component is in [0, 2^16).
type Key [3]int

type node struct {
	children *[8]*node
	occupied bool
}

func (n *node) hasChildren() bool {
	return n.children != nil
}

// OcTree is a sparse occupancy tree. The zero value is not usable; use NewOcTree.
type OcTree struct {
	resolution float64
	sizeLookup [TreeDepth + 1]float64
	root       *node
}

// Leaf is a node without children. Leaves above TreeDepth are pruned: they stand for a cube of
// uniform occupancy larger than the resolution.
type Leaf struct {
	Key      Key
	Depth    int
	Center   r3.Vector
	Size     float64
	Occupied bool
}

// NewOcTree returns an empty tree with the given leaf resolution.
func NewOcTree(resolution float64) (*OcTree, error) {
	if !(resolution > 0) || math.IsInf(resolution, 1) {
		return nil, errors.Errorf("invalid octree resolution %v", resolution)
	}
	tree := &OcTree{resolution: resolution}
	for depth := 0; depth <= TreeDepth; depth++ {
		tree.sizeLookup[depth] = resolution * float64(int(1)<<(TreeDepth-depth))
	}
	return tree, nil
}

// Resolution returns the edge length of a leaf at maximum depth.
func (t *OcTree) Resolution() float64 {
	return t.resolution
}

// Depth returns the maximum depth of the tree.
func (t *OcTree) Depth() int {
	return TreeDepth
}

// NodeSize returns the edge length of a node at depth.
func (t *OcTree) NodeSize(depth int) float64 {
	return t.sizeLookup[depth]
}

// CoordToKey returns the key of the max depth cell containing p.
func (t *OcTree) CoordToKey(p r3.Vector) (Key, error) {
	var key Key
	for i, c := range []float64{p.X, p.Y, p.Z} {
		scaled := math.Floor(c / t.resolution)
		if math.IsNaN(scaled) || scaled < -treeMaxVal || scaled >= treeMaxVal {
			return Key{}, errors.Errorf("coordinate %v is out of the octree's range", p)
		}
		key[i] = int(scaled) + treeMaxVal
	}
	return key, nil
}

// keyToCoord returns the center of the node at depth whose cube contains the max depth cell key.
func (t *OcTree) keyToCoord(key, depth int) float64 {
	if depth == TreeDepth {
		return (float64(key-treeMaxVal) + 0.5) * t.resolution
	}
	diff := TreeDepth - depth
	return (math.Floor(float64(key-treeMaxVal)/float64(int(1)<<diff)) + 0.5) * t.NodeSize(depth)
}

func childIndex(key Key, depth int) int {
	bit := uint(TreeDepth - 1 - depth)
	idx := 0
	if key[0]&(1<<bit) != 0 {
		idx |= 1
	}
	if key[1]&(1<<bit) != 0 {
		idx |= 2
	}
	if key[2]&(1<<bit) != 0 {
		idx |= 4
	}
	return idx
}

// UpdateNode marks the max depth cell containing p as occupied or free, creating or expanding
// nodes on the way down.
func (t *OcTree) UpdateNode(p r3.Vector, occupied bool) error {
	key, err := t.CoordToKey(p)
	if err != nil {
		return err
	}
	t.setKey(key, occupied)
	return nil
}

func (t *OcTree) setKey(key Key, occupied bool) {
	created := false
	if t.root == nil {
		t.root = &node{}
		created = true
	}
	path := make([]*node, 0, TreeDepth)
	cur := t.root
	for depth := 0; depth < TreeDepth; depth++ {
		if !cur.hasChildren() {
			if created {
				cur.children = new([8]*node)
			} else {
				expandNode(cur)
			}
		}
		path = append(path, cur)
		idx := childIndex(key, depth)
		created = false
		if cur.children[idx] == nil {
			cur.children[idx] = &node{}
			created = true
		}
		cur = cur.children[idx]
	}
	cur.occupied = occupied
	for i := len(path) - 1; i >= 0; i-- {
		updateInner(path[i])
	}
}

// expandNode gives a pruned leaf eight children carrying its occupancy.
func expandNode(n *node) {
	n.children = new([8]*node)
	for i := range n.children {
		n.children[i] = &node{occupied: n.occupied}
	}
}

// updateInner sets an inner node's occupancy to the max over its children, like octomap's
// updateInnerOccupancy.
func updateInner(n *node) {
	occupied := false
	for _, c := range n.children {
		if c != nil && c.occupied {
			occupied = true
			break
		}
	}
	n.occupied = occupied
}

// NumNodes returns the number of nodes in the tree, the root included.
func (t *OcTree) NumNodes() int {
	if t.root == nil {
		return 0
	}
	return countNodes(t.root)
}

func countNodes(n *node) int {
	count := 1
	if n.hasChildren() {
		for _, c := range n.children {
			if c != nil {
				count += countNodes(c)
			}
		}
	}
	return count
}

// IterateLeaves calls fn for every leaf at or above maxDepth, depth first in child order. A
// node at maxDepth is reported as a leaf even if it has children. Iteration stops when fn
// returns false.
func (t *OcTree) IterateLeaves(maxDepth int, fn func(leaf Leaf) bool) {
	if t.root == nil {
		return
	}
	if maxDepth <= 0 || maxDepth > TreeDepth {
		maxDepth = TreeDepth
	}
	// a childless root is an empty tree, not a leaf covering all of space
	if !t.root.hasChildren() {
		return
	}
	t.iterate(t.root, Key{}, 0, maxDepth, fn)
}

func (t *OcTree) iterate(n *node, origin Key, depth, maxDepth int, fn func(leaf Leaf) bool) bool {
	if !n.hasChildren() || depth == maxDepth {
		center := Key{
			origin[0] + (1<<(TreeDepth-depth))/2,
			origin[1] + (1<<(TreeDepth-depth))/2,
			origin[2] + (1<<(TreeDepth-depth))/2,
		}
		if depth == TreeDepth {
			center = origin
		}
		return fn(Leaf{
			Key:   center,
			Depth: depth,
			Center: r3.Vector{
				X: t.keyToCoord(center[0], depth),
				Y: t.keyToCoord(center[1], depth),
				Z: t.keyToCoord(center[2], depth),
			},
			Size:     t.NodeSize(depth),
			Occupied: n.occupied,
		})
	}
	half := 1 << (TreeDepth - depth - 1)
	for i, c := range n.children {
		if c == nil {
			continue
		}
		childOrigin := origin
		if i&1 != 0 {
			childOrigin[0] += half
		}
		if i&2 != 0 {
			childOrigin[1] += half
		}
		if i&4 != 0 {
			childOrigin[2] += half
		}
		if !t.iterate(c, childOrigin, depth+1, maxDepth, fn) {
			return false
		}
	}
	return true
}
