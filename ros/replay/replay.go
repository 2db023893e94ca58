// Package replay plays the planning scene and reachability map topics recorded in a rosbag onto a
// transport bus, in the encoding the obstacle filter consumes.
package replay

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/MShields1986/reuleaux/octomap"
	"github.com/MShields1986/reuleaux/reachability"
	"github.com/MShields1986/reuleaux/ros"
	"github.com/MShields1986/reuleaux/transport"
)

// Event is one recorded message, already encoded for the bus.
type Event struct {
	Time    time.Time
	Topic   string
	Payload []byte
}

// Recording is the ordered list of events read from a bag.
type Recording struct {
	Events []Event
}

// octomapBody is the octomap_msgs/Octomap layout as gobag renders it.
type octomapBody struct {
	Header     ros.Header    `json:"header"`
	Binary     bool          `json:"binary"`
	ID         string        `json:"id"`
	Resolution float64       `json:"resolution"`
	Data       ros.ByteArray `json:"data"`
}

// planningScene holds the part of moveit_msgs/PlanningScene the filter needs.
type planningScene struct {
	World struct {
		Octomap struct {
			Header  ros.Header  `json:"header"`
			Octomap octomapBody `json:"octomap"`
		} `json:"octomap"`
	} `json:"world"`
}

// SceneOctomap extracts the octomap carried in the world of a recorded planning scene.
func SceneOctomap(data json.RawMessage) (octomap.Message, error) {
	var scene planningScene
	if err := json.Unmarshal(data, &scene); err != nil {
		return octomap.Message{}, errors.Wrap(err, "error decoding planning scene")
	}
	body := scene.World.Octomap.Octomap
	return octomap.Message{
		Header:     body.Header,
		Binary:     body.Binary,
		ID:         body.ID,
		Resolution: body.Resolution,
		Data:       []byte(body.Data),
	}, nil
}

// ReachabilityMap decodes a recorded map_creator/WorkSpace message.
func ReachabilityMap(data json.RawMessage) (*reachability.Map, error) {
	return reachability.Unmarshal(data)
}

func bagTime(meta ros.BagMeta) time.Time {
	return time.Unix(meta.Secs, meta.Nsecs)
}

// FromMessages builds a recording from the raw messages of the two topics. Messages that cannot
// be converted are logged and skipped.
func FromMessages(sceneTopic string, scenes []ros.BagMessage, mapTopic string, maps []ros.BagMessage, logger golog.Logger) *Recording {
	rec := &Recording{}
	for i, m := range scenes {
		msg, err := SceneOctomap(m.Data)
		if err != nil {
			logger.Warnw("skipping planning scene", "index", i, "error", err)
			continue
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			logger.Warnw("skipping planning scene", "index", i, "error", err)
			continue
		}
		rec.Events = append(rec.Events, Event{Time: bagTime(m.Meta), Topic: sceneTopic, Payload: payload})
	}
	for i, m := range maps {
		rm, err := ReachabilityMap(m.Data)
		if err != nil {
			logger.Warnw("skipping reachability map", "index", i, "error", err)
			continue
		}
		payload, err := rm.Marshal()
		if err != nil {
			logger.Warnw("skipping reachability map", "index", i, "error", err)
			continue
		}
		rec.Events = append(rec.Events, Event{Time: bagTime(m.Meta), Topic: mapTopic, Payload: payload})
	}
	sort.SliceStable(rec.Events, func(i, j int) bool {
		return rec.Events[i].Time.Before(rec.Events[j].Time)
	})
	return rec
}

// Load reads a bag and builds a recording of its scene and map topics. A bag missing one of the
// topics is accepted; a bag missing both is an error.
func Load(filename, sceneTopic, mapTopic string, logger golog.Logger) (*Recording, error) {
	rb, err := ros.ReadBag(filename)
	if err != nil {
		return nil, err
	}
	scenes, err := ros.MessagesForTopic(rb, sceneTopic)
	if err != nil && !errors.Is(err, ros.ErrNoMessages) {
		return nil, err
	}
	maps, err := ros.MessagesForTopic(rb, mapTopic)
	if err != nil && !errors.Is(err, ros.ErrNoMessages) {
		return nil, err
	}
	if len(scenes) == 0 && len(maps) == 0 {
		return nil, errors.Errorf("bag %s has no messages on %s or %s", filename, sceneTopic, mapTopic)
	}
	logger.Infow("loaded bag", "file", filename, "scenes", len(scenes), "maps", len(maps))
	return FromMessages(sceneTopic, scenes, mapTopic, maps, logger), nil
}

// Player publishes a recording, keeping the recorded spacing between events.
type Player struct {
	bus    transport.Bus
	clock  clock.Clock
	logger golog.Logger
}

// NewPlayer returns a player publishing to bus. A nil clk uses the wall clock.
func NewPlayer(bus transport.Bus, clk clock.Clock, logger golog.Logger) *Player {
	if clk == nil {
		clk = clock.New()
	}
	return &Player{bus: bus, clock: clk, logger: logger}
}

// Play publishes every event of rec in order. It returns early with the context's error when ctx
// is cancelled.
func (p *Player) Play(ctx context.Context, rec *Recording) error {
	for i, ev := range rec.Events {
		if i > 0 {
			if gap := ev.Time.Sub(rec.Events[i-1].Time); gap > 0 {
				timer := p.clock.Timer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := p.bus.Publish(ctx, ev.Topic, ev.Payload); err != nil {
			return errors.Wrapf(err, "error replaying event %d on %s", i, ev.Topic)
		}
		p.logger.Debugw("replayed", "topic", ev.Topic, "bytes", len(ev.Payload))
	}
	return nil
}
