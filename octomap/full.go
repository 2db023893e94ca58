package octomap

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// occupancyThresholdLogOdds is octomap's default occupancy threshold of 0.5 in log-odds.
const occupancyThresholdLogOdds = 0

// fullNodeExtra is the number of bytes each tree type stores per node after the log-odds value:
// an rgb color for ColorOcTree and a uint32 timestamp for OcTreeStamped.
var fullNodeExtra = map[string]int{
	"OcTree":        0,
	"ColorOcTree":   3,
	"OcTreeStamped": 4,
}

// ReadFullData decodes the node stream written by octomap's writeData for a tree of type id: for
// each node its little endian float32 log-odds and type specific data, then a byte whose bit i
// is set when child i exists, followed by the existing children's own streams in child order. A
// node is occupied when its log-odds reach the default threshold. Empty data decodes into an
// empty tree.
func ReadFullData(data []byte, resolution float64, id string) (*OcTree, error) {
	extra, ok := fullNodeExtra[id]
	if !ok {
		return nil, errors.Errorf("unsupported octree type %q", id)
	}
	tree, err := NewOcTree(resolution)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return tree, nil
	}
	r := bytes.NewReader(data)
	tree.root = &node{}
	if err := readFullNode(r, tree.root, 0, extra); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrTrailingData, "%d bytes left", r.Len())
	}
	return tree, nil
}

func readFullNode(r *bytes.Reader, n *node, depth, extra int) error {
	var value [4]byte
	if _, err := io.ReadFull(r, value[:]); err != nil {
		return ErrTruncated
	}
	logOdds := math.Float32frombits(binary.LittleEndian.Uint32(value[:]))
	if _, err := r.Seek(int64(extra), io.SeekCurrent); err != nil || r.Len() == 0 {
		return ErrTruncated
	}
	mask, err := r.ReadByte()
	if err != nil {
		return ErrTruncated
	}

	if mask == 0 {
		n.occupied = logOdds >= occupancyThresholdLogOdds
		return nil
	}
	if depth >= TreeDepth {
		return ErrTooDeep
	}
	n.children = new([8]*node)
	for i := 0; i < 8; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		n.children[i] = &node{}
		if err := readFullNode(r, n.children[i], depth+1, extra); err != nil {
			return err
		}
	}
	updateInner(n)
	return nil
}
