package octomap

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Child states of the binary stream, two bits per child.
const (
	childUnknown  = 0
	childFree     = 1
	childOccupied = 2
	childInner    = 3
)

const binaryFileHeader = "# Octomap OcTree binary file"

var (
	// ErrTruncated is returned when a binary stream ends inside a node.
	ErrTruncated = errors.New("octomap binary stream is truncated")
	// ErrTooDeep is returned when a binary stream nests nodes below TreeDepth.
	ErrTooDeep = errors.New("octomap binary stream is deeper than the maximum tree depth")
	// ErrTrailingData is returned when bytes remain after the root node was read.
	ErrTrailingData = errors.New("octomap binary stream has trailing data")
)

// ReadBinaryData decodes the node stream written by octomap's writeBinaryData: for each inner
// node two bytes holding the state of its eight children, followed by the inner children's own
// streams in child order. Empty data decodes into an empty tree.
func ReadBinaryData(data []byte, resolution float64) (*OcTree, error) {
	tree, err := NewOcTree(resolution)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return tree, nil
	}
	r := bytes.NewReader(data)
	tree.root = &node{}
	if err := readBinaryNode(r, tree.root, 0); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errors.Wrapf(ErrTrailingData, "%d bytes left", r.Len())
	}
	return tree, nil
}

func readBinaryNode(r io.ByteReader, n *node, depth int) error {
	if depth >= TreeDepth {
		return ErrTooDeep
	}
	var states [2]byte
	for i := range states {
		b, err := r.ReadByte()
		if err != nil {
			return ErrTruncated
		}
		states[i] = b
	}

	n.children = new([8]*node)
	var inner [8]bool
	for i := 0; i < 8; i++ {
		state := (states[i/4] >> uint((i%4)*2)) & 0x03
		switch state {
		case childFree:
			n.children[i] = &node{}
		case childOccupied:
			n.children[i] = &node{occupied: true}
		case childInner:
			n.children[i] = &node{}
			inner[i] = true
		case childUnknown:
		}
	}
	for i, isInner := range inner {
		if !isInner {
			continue
		}
		if err := readBinaryNode(r, n.children[i], depth+1); err != nil {
			return err
		}
	}
	updateInner(n)
	return nil
}

// WriteBinaryData encodes the tree as an octomap binary node stream. An empty tree encodes to
// no bytes.
func (t *OcTree) WriteBinaryData(w io.Writer) error {
	if t.root == nil || !t.root.hasChildren() {
		return nil
	}
	bw := bufio.NewWriter(w)
	if err := writeBinaryNode(bw, t.root); err != nil {
		return err
	}
	return bw.Flush()
}

// MarshalBinary returns the tree's binary node stream.
func (t *OcTree) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.WriteBinaryData(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBinaryNode(w io.ByteWriter, n *node) error {
	var states [2]byte
	for i, c := range n.children {
		var state byte
		switch {
		case c == nil:
			state = childUnknown
		case c.hasChildren():
			state = childInner
		case c.occupied:
			state = childOccupied
		default:
			state = childFree
		}
		states[i/4] |= state << uint((i%4)*2)
	}
	for _, b := range states {
		if err := w.WriteByte(b); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if c != nil && c.hasChildren() {
			if err := writeBinaryNode(w, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadBinaryFile reads a .bt file: a text header naming the tree type, node count and
// resolution, then the binary node stream.
func ReadBinaryFile(r io.Reader) (*OcTree, error) {
	in := bufio.NewReader(r)
	first, err := in.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, binaryFileHeader) {
		return nil, errors.New("first line of octomap binary file header does not start with \"# Octomap OcTree binary file\"")
	}

	id := "OcTree"
	size := -1
	resolution := 0.0
	sawData := false
	for !sawData {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "error reading octomap binary file header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "id":
			if len(fields) < 2 {
				return nil, errors.New("octomap binary file header has an empty id")
			}
			id = fields[1]
		case "size":
			if len(fields) < 2 {
				return nil, errors.New("octomap binary file header has an empty size")
			}
			if size, err = strconv.Atoi(fields[1]); err != nil {
				return nil, errors.Wrap(err, "error parsing octomap binary file size")
			}
		case "res":
			if len(fields) < 2 {
				return nil, errors.New("octomap binary file header has an empty res")
			}
			if resolution, err = strconv.ParseFloat(fields[1], 64); err != nil {
				return nil, errors.Wrap(err, "error parsing octomap binary file resolution")
			}
		case "data":
			sawData = true
		default:
			return nil, errors.Errorf("unknown keyword %q in octomap binary file header", fields[0])
		}
	}
	if !SupportedTreeID(id) {
		return nil, errors.Errorf("unsupported octree type %q", id)
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, errors.Wrap(err, "error reading octomap binary data")
	}
	tree, err := ReadBinaryData(data, resolution)
	if err != nil {
		return nil, err
	}
	if size >= 0 && tree.NumNodes() != size {
		return nil, errors.Errorf("octomap binary file declares %d nodes but holds %d", size, tree.NumNodes())
	}
	return tree, nil
}
