// Package ros bridges the ROS message layouts consumed by the reachability filter: headers, and
// messages recorded in rosbags.
package ros

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()

	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to create ros bag, error")
	}

	return rb, nil
}

// ErrNoMessages is returned when a bag holds no messages for a requested topic.
var ErrNoMessages = errors.New("no messages for topic")

// BagMessage is one message of a topic as parsed by gobag: record metadata plus the message
// body, left undecoded.
type BagMessage struct {
	Meta BagMeta         `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// topicKey mirrors the key gobag files parsed topics under: no leading slash, slashes turned into
// underscores, lower case.
func topicKey(topic string) string {
	topic = strings.TrimPrefix(topic, "/")
	return strings.ToLower(strings.ReplaceAll(topic, "/", "_"))
}

// MessagesForTopic returns all messages recorded on topic, in bag order.
func MessagesForTopic(rb *rosbag.RosBag, topic string) ([]BagMessage, error) {
	key := topicKey(topic)
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return topicKey(t) == key },
		false,
	); err != nil {
		return nil, errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[key]
	if msgs == nil {
		return nil, errors.Wrap(ErrNoMessages, topic)
	}
	return decodeBagMessages(msgs)
}

// lineReader is what gobag collects parsed messages in: one JSON document per line.
type lineReader interface {
	ReadBytes(delim byte) ([]byte, error)
}

func decodeBagMessages(in lineReader) ([]BagMessage, error) {
	all := []BagMessage{}
	for {
		line, err := in.ReadBytes('\n')
		if len(line) > 0 {
			var msg BagMessage
			if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
				return nil, errors.Wrapf(jsonErr, "error decoding message %d", len(all))
			}
			all = append(all, msg)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
	}
	return all, nil
}

// ByteArray is a uint8[] or int8[] message field. gobag renders these either as a list of numbers
// or as a base64 string; both are accepted.
type ByteArray []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw []byte
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = raw
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < -128 || n > 255 {
			return errors.Errorf("byte array element %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
