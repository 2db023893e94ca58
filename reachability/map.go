// Package reachability defines the reachability map: sampled points of a robot's workspace, each
// carrying a reachability index and the end effector poses that reach it.
package reachability

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/MShields1986/reuleaux/ros"
)

// ErrInvalidMap is returned for maps that cannot be classified.
var ErrInvalidMap = errors.New("invalid reachability map")

// Sample is one sphere of the workspace. Ri and Poses are carried along untouched.
type Sample struct {
	Point ros.Point  `json:"point"`
	Ri    float64    `json:"ri"`
	Poses []ros.Pose `json:"poses"`
}

// Map is a map_creator/WorkSpace message.
type Map struct {
	Header     ros.Header `json:"header"`
	Resolution float64    `json:"resolution"`
	Samples    []Sample   `json:"WsSpheres"`
}

// NewSample returns a sample at p with no poses.
func NewSample(p r3.Vector, ri float64) Sample {
	return Sample{Point: ros.NewPoint(p), Ri: ri}
}

// Validate checks that the map has a usable resolution. Sample points are not checked.
func (m *Map) Validate() error {
	if !(m.Resolution > 0) || math.IsInf(m.Resolution, 1) {
		return errors.Wrapf(ErrInvalidMap, "resolution must be positive, got %v", m.Resolution)
	}
	return nil
}

// Len returns the number of samples.
func (m *Map) Len() int {
	return len(m.Samples)
}

// Empty returns a map with m's header and resolution and no samples.
func (m *Map) Empty() *Map {
	return &Map{Header: m.Header, Resolution: m.Resolution, Samples: []Sample{}}
}

// Partition splits the samples by collides, keeping their relative order. Every sample lands in
// exactly one of the two returned maps, both of which share m's header and resolution.
func (m *Map) Partition(collides func(p r3.Vector) bool) (free, colliding *Map) {
	free = m.Empty()
	colliding = m.Empty()
	for _, s := range m.Samples {
		if collides(s.Point.Vector()) {
			colliding.Samples = append(colliding.Samples, s)
		} else {
			free.Samples = append(free.Samples, s)
		}
	}
	return free, colliding
}

// Unmarshal decodes and validates a JSON encoded map.
func Unmarshal(data []byte) (*Map, error) {
	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "error decoding reachability map")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes the map as JSON.
func (m *Map) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
