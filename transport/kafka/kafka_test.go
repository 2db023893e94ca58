package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/segmentio/kafka-go"
	"go.viam.com/test"

	"github.com/MShields1986/reuleaux/transport"
)

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		cfg    Config
		errStr string
	}{
		{"ok", Config{Brokers: []string{"localhost:9092"}}, ""},
		{"no brokers", Config{}, "at least one kafka broker"},
		{"blank broker", Config{Brokers: []string{"localhost:9092", " "}}, "empty kafka broker"},
		{"negative wait", Config{Brokers: []string{"b:1"}, MaxWait: -time.Second}, "must not be negative"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.errStr == "" {
				test.That(t, err, test.ShouldBeNil)
			} else {
				test.That(t, err, test.ShouldNotBeNil)
				test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
			}
		})
	}
}

func TestTopicName(t *testing.T) {
	test.That(t, TopicName("/move_group/monitored_planning_scene"), test.ShouldEqual, "move_group.monitored_planning_scene")
	test.That(t, TopicName("reachability_map_colliding"), test.ShouldEqual, "reachability_map_colliding")
}

func TestNewAndClose(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := New(Config{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	bus, err := New(Config{Brokers: []string{"localhost:9092"}}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.cfg.MaxWait, test.ShouldEqual, defaultMaxWait)

	w1, err := bus.writer("/reachability_map_filtered")
	test.That(t, err, test.ShouldBeNil)
	w2, err := bus.writer("reachability_map_filtered")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w1, test.ShouldEqual, w2)
	test.That(t, w1.Topic, test.ShouldEqual, "reachability_map_filtered")

	test.That(t, bus.Close(), test.ShouldBeNil)
	test.That(t, bus.Close(), test.ShouldBeNil)

	err = bus.Publish(context.Background(), "t", []byte("x"))
	test.That(t, errors.Is(err, transport.ErrClosed), test.ShouldBeTrue)
	_, err = bus.Subscribe(context.Background(), "t", func([]byte) {})
	test.That(t, errors.Is(err, transport.ErrClosed), test.ShouldBeTrue)
}

type fakeReader struct {
	msgs   []kafka.Message
	errs   []error
	cancel func()
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func TestReadLoop(t *testing.T) {
	logger, logs := golog.NewObservedTestLogger(t)
	bus, err := New(Config{Brokers: []string{"localhost:9092"}}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, bus.Close(), test.ShouldBeNil)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{
		msgs:   []kafka.Message{{Value: []byte("one")}, {Value: []byte("two")}},
		errs:   []error{errors.New("broker unavailable")},
		cancel: cancel,
	}

	var got []string
	bus.readLoop(ctx, "scene", reader, func(payload []byte) { got = append(got, string(payload)) })
	test.That(t, got, test.ShouldResemble, []string{"one", "two"})
	test.That(t, logs.FilterMessageSnippet("error reading from kafka").Len(), test.ShouldEqual, 1)
}

func TestMessageID(t *testing.T) {
	m1 := newMessage([]byte("payload"))
	m2 := newMessage([]byte("payload"))
	test.That(t, string(m1.Value), test.ShouldEqual, "payload")
	test.That(t, messageID(m1), test.ShouldNotBeEmpty)
	test.That(t, messageID(m1), test.ShouldNotEqual, messageID(m2))
	test.That(t, messageID(kafka.Message{Value: []byte("foreign")}), test.ShouldEqual, "")
}

func TestReaderConfig(t *testing.T) {
	logger := golog.NewTestLogger(t)
	bus, err := New(Config{
		Brokers: []string{"localhost:9092"},
		GroupID: "filters",
		Latched: []string{"/reachability_map"},
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, bus.Close(), test.ShouldBeNil)
	}()

	latched := bus.readerConfig(TopicName("/reachability_map"))
	test.That(t, latched.GroupID, test.ShouldEqual, "")
	test.That(t, latched.StartOffset, test.ShouldEqual, kafka.FirstOffset)
	test.That(t, latched.Topic, test.ShouldEqual, "reachability_map")

	scene := bus.readerConfig(TopicName("/move_group/monitored_planning_scene"))
	test.That(t, scene.GroupID, test.ShouldEqual, "filters")
	test.That(t, scene.StartOffset, test.ShouldEqual, kafka.LastOffset)

	noGroup, err := New(Config{Brokers: []string{"localhost:9092"}}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, noGroup.Close(), test.ShouldBeNil)
	}()
	cfg := noGroup.readerConfig("move_group.monitored_planning_scene")
	test.That(t, cfg.GroupID, test.ShouldEqual, "")
	test.That(t, cfg.StartOffset, test.ShouldEqual, kafka.LastOffset)
}

func TestSubscribeLatched(t *testing.T) {
	bus, err := New(Config{Brokers: []string{"localhost:9092"}, Latched: []string{"/reachability_map"}}, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	// no broker is contacted until the reader fetches, so subscribing and closing succeeds offline
	sub, err := bus.Subscribe(context.Background(), "/reachability_map", func([]byte) {})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.Unsubscribe(), test.ShouldBeNil)
	test.That(t, bus.Close(), test.ShouldBeNil)
}
