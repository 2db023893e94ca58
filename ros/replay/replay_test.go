package replay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/MShields1986/reuleaux/octomap"
	"github.com/MShields1986/reuleaux/reachability"
	"github.com/MShields1986/reuleaux/ros"
	"github.com/MShields1986/reuleaux/transport/inmem"
)

const (
	sceneTopic = "/move_group/monitored_planning_scene"
	mapTopic   = "/reachability_map"
)

const sceneJSON = `{
	"name": "scene",
	"is_diff": true,
	"world": {
		"collision_objects": [],
		"octomap": {
			"header": {"seq": 0, "stamp": {"secs": 0, "nsecs": 0}, "frame_id": "world"},
			"octomap": {
				"header": {"seq": 12, "stamp": {"secs": 3, "nsecs": 0}, "frame_id": "world"},
				"binary": true,
				"id": "OcTree",
				"resolution": 0.5,
				"data": [2, 0]
			}
		}
	}
}`

const mapJSON = `{
	"header": {"seq": 1, "stamp": {"secs": 0, "nsecs": 0}, "frame_id": "base_link"},
	"resolution": 1,
	"WsSpheres": [{"point": {"x": 0, "y": 0, "z": 0}, "ri": 10, "poses": []}]
}`

func bagMessage(secs int64, data string) ros.BagMessage {
	return ros.BagMessage{Meta: ros.BagMeta{Secs: secs}, Data: json.RawMessage(data)}
}

func TestSceneOctomap(t *testing.T) {
	msg, err := SceneOctomap(json.RawMessage(sceneJSON))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msg.Header.Seq, test.ShouldEqual, uint32(12))
	test.That(t, msg.Binary, test.ShouldBeTrue)
	test.That(t, msg.ID, test.ShouldEqual, "OcTree")
	test.That(t, msg.Resolution, test.ShouldEqual, 0.5)
	test.That(t, msg.Data, test.ShouldResemble, []byte{2, 0})

	tree, err := octomap.FromMessage(msg)
	test.That(t, err, test.ShouldBeNil)
	occupied := 0
	tree.IterateLeaves(tree.Depth(), func(leaf octomap.Leaf) bool {
		if leaf.Occupied {
			occupied++
		}
		return true
	})
	test.That(t, occupied, test.ShouldEqual, 1)

	t.Run("scene without octomap", func(t *testing.T) {
		msg, err := SceneOctomap(json.RawMessage(`{"world": {}}`))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, msg.Empty(), test.ShouldBeTrue)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := SceneOctomap(json.RawMessage(`[]`))
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestFromMessages(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	rec := FromMessages(
		sceneTopic, []ros.BagMessage{bagMessage(5, sceneJSON), bagMessage(6, `{"world": 1}`), bagMessage(9, sceneJSON)},
		mapTopic, []ros.BagMessage{bagMessage(7, mapJSON), bagMessage(8, `{"resolution": -1}`)},
		logger,
	)
	test.That(t, len(rec.Events), test.ShouldEqual, 3)
	test.That(t, rec.Events[0].Topic, test.ShouldEqual, sceneTopic)
	test.That(t, rec.Events[1].Topic, test.ShouldEqual, mapTopic)
	test.That(t, rec.Events[2].Topic, test.ShouldEqual, sceneTopic)
	test.That(t, rec.Events[2].Time, test.ShouldResemble, time.Unix(9, 0))
	test.That(t, logs.FilterMessageSnippet("skipping").Len(), test.ShouldEqual, 2)

	var msg octomap.Message
	test.That(t, json.Unmarshal(rec.Events[0].Payload, &msg), test.ShouldBeNil)
	test.That(t, msg.Data, test.ShouldResemble, []byte{2, 0})

	rm, err := reachability.Unmarshal(rec.Events[1].Payload)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rm.Len(), test.ShouldEqual, 1)
	test.That(t, rm.Samples[0].Ri, test.ShouldEqual, 10.0)
}

func TestLoadMissingBag(t *testing.T) {
	_, err := Load("/nonexistent.bag", sceneTopic, mapTopic, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func record(bus *inmem.Bus, topics ...string) chan string {
	got := make(chan string, 10)
	for _, topic := range topics {
		topic := topic
		//nolint:errcheck
		bus.Subscribe(context.Background(), topic, func([]byte) { got <- topic })
	}
	return got
}

func TestPlay(t *testing.T) {
	logger := golog.NewTestLogger(t)
	start := time.Unix(100, 0)

	t.Run("in order", func(t *testing.T) {
		bus := inmem.New()
		got := record(bus, sceneTopic, mapTopic)
		rec := &Recording{Events: []Event{
			{Time: start, Topic: mapTopic},
			{Time: start, Topic: sceneTopic},
			{Time: start, Topic: sceneTopic},
		}}
		test.That(t, NewPlayer(bus, clock.NewMock(), logger).Play(context.Background(), rec), test.ShouldBeNil)
		close(got)
		var topics []string
		for topic := range got {
			topics = append(topics, topic)
		}
		test.That(t, topics, test.ShouldResemble, []string{mapTopic, sceneTopic, sceneTopic})
	})

	t.Run("waits for the recorded gap", func(t *testing.T) {
		bus := inmem.New()
		got := record(bus, sceneTopic, mapTopic)
		mockClock := clock.NewMock()
		rec := &Recording{Events: []Event{
			{Time: start, Topic: mapTopic},
			{Time: start.Add(time.Second), Topic: sceneTopic},
		}}
		done := make(chan error, 1)
		go func() {
			done <- NewPlayer(bus, mockClock, logger).Play(context.Background(), rec)
		}()
		test.That(t, <-got, test.ShouldEqual, mapTopic)
		select {
		case <-got:
			t.Fatal("published before the recorded gap elapsed")
		case <-time.After(20 * time.Millisecond):
		}
		for {
			mockClock.Add(100 * time.Millisecond)
			select {
			case err := <-done:
				test.That(t, err, test.ShouldBeNil)
				test.That(t, <-got, test.ShouldEqual, sceneTopic)
				return
			case <-time.After(time.Millisecond):
			}
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		bus := inmem.New()
		got := record(bus, sceneTopic, mapTopic)
		rec := &Recording{Events: []Event{
			{Time: start, Topic: mapTopic},
			{Time: start.Add(time.Hour), Topic: sceneTopic},
		}}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- NewPlayer(bus, clock.NewMock(), logger).Play(ctx, rec)
		}()
		test.That(t, <-got, test.ShouldEqual, mapTopic)
		cancel()
		err := <-done
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}
