package ros

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestTopicKey(t *testing.T) {
	for _, tc := range []struct {
		topic    string
		expected string
	}{
		{"/move_group/monitored_planning_scene", "move_group_monitored_planning_scene"},
		{"/reachability_map", "reachability_map"},
		{"Camera/Depth", "camera_depth"},
	} {
		test.That(t, topicKey(tc.topic), test.ShouldEqual, tc.expected)
	}
}

func TestDecodeBagMessages(t *testing.T) {
	in := bytes.NewBufferString(
		`{"meta":{"secs":10,"nsecs":5},"data":{"resolution":0.1}}` + "\n" +
			`{"meta":{"secs":11,"nsecs":0},"data":{"resolution":0.2}}`,
	)
	msgs, err := decodeBagMessages(in)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(msgs), test.ShouldEqual, 2)
	test.That(t, msgs[0].Meta, test.ShouldResemble, BagMeta{Secs: 10, Nsecs: 5})
	test.That(t, msgs[1].Meta.Secs, test.ShouldEqual, int64(11))

	var body struct {
		Resolution float64 `json:"resolution"`
	}
	test.That(t, json.Unmarshal(msgs[1].Data, &body), test.ShouldBeNil)
	test.That(t, body.Resolution, test.ShouldEqual, 0.2)

	t.Run("empty", func(t *testing.T) {
		msgs, err := decodeBagMessages(&bytes.Buffer{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, msgs, test.ShouldBeEmpty)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := decodeBagMessages(bytes.NewBufferString("{\"meta\":\n"))
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "error decoding message 0")
	})
}

func TestByteArray(t *testing.T) {
	var fromNumbers struct {
		Data ByteArray `json:"data"`
	}
	test.That(t, json.Unmarshal([]byte(`{"data":[0,-1,127,-128,255]}`), &fromNumbers), test.ShouldBeNil)
	test.That(t, []byte(fromNumbers.Data), test.ShouldResemble, []byte{0x00, 0xff, 0x7f, 0x80, 0xff})

	var fromBase64 struct {
		Data ByteArray `json:"data"`
	}
	test.That(t, json.Unmarshal([]byte(`{"data":"AQID"}`), &fromBase64), test.ShouldBeNil)
	test.That(t, []byte(fromBase64.Data), test.ShouldResemble, []byte{1, 2, 3})

	var outOfRange ByteArray
	err := json.Unmarshal([]byte(`[256]`), &outOfRange)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "out of range")

	test.That(t, json.Unmarshal([]byte(`{"a":1}`), &outOfRange), test.ShouldNotBeNil)
}

func TestTime(t *testing.T) {
	now := time.Unix(1700000000, 250)
	stamp := NewTime(now)
	test.That(t, stamp, test.ShouldResemble, Time{Secs: 1700000000, Nsecs: 250})
	test.That(t, stamp.Time().Equal(now), test.ShouldBeTrue)

	var header Header
	test.That(t, json.Unmarshal(
		[]byte(`{"seq":3,"stamp":{"secs":1,"nsecs":2},"frame_id":"base_link"}`), &header,
	), test.ShouldBeNil)
	test.That(t, header, test.ShouldResemble, Header{Seq: 3, Stamp: Time{Secs: 1, Nsecs: 2}, FrameID: "base_link"})
}

func TestReadBagMissingFile(t *testing.T) {
	_, err := ReadBag("/nonexistent/scene.bag")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unable to open input file")
}
