package octomap

import (
	"github.com/pkg/errors"

	"github.com/MShields1986/reuleaux/ros"
)

// Message is an octomap_msgs/Octomap message.
type Message struct {
	Header     ros.Header `json:"header"`
	Binary     bool       `json:"binary"`
	ID         string     `json:"id"`
	Resolution float64    `json:"resolution"`
	Data       []byte     `json:"data"`
}

// Empty reports whether the message carries no tree data.
func (msg *Message) Empty() bool {
	return len(msg.Data) == 0
}

// SupportedTreeID reports whether a tree of type id can be decoded. The binary stream only holds
// occupancy, so every occupancy tree type shares it; full streams differ per type.
func SupportedTreeID(id string) bool {
	switch id {
	case "OcTree", "ColorOcTree", "OcTreeStamped":
		return true
	default:
		return false
	}
}

// FromMessage decodes the tree carried by msg, either as a binary occupancy stream or as a full
// log-odds stream.
func FromMessage(msg Message) (*OcTree, error) {
	if !SupportedTreeID(msg.ID) {
		return nil, errors.Errorf("unsupported octree type %q", msg.ID)
	}
	var (
		tree *OcTree
		err  error
	)
	if msg.Binary {
		tree, err = ReadBinaryData(msg.Data, msg.Resolution)
	} else {
		tree, err = ReadFullData(msg.Data, msg.Resolution, msg.ID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error decoding octomap message")
	}
	return tree, nil
}

// ToMessage encodes tree as a binary octomap message.
func ToMessage(tree *OcTree, header ros.Header) (Message, error) {
	data, err := tree.MarshalBinary()
	if err != nil {
		return Message{}, err
	}
	return Message{
		Header:     header,
		Binary:     true,
		ID:         "OcTree",
		Resolution: tree.Resolution(),
		Data:       data,
	}, nil
}
