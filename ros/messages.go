package ros

import (
	"time"

	"github.com/golang/geo/r3"
)

// Time is a ROS timestamp.
type Time struct {
	Secs  uint32 `json:"secs"`
	Nsecs uint32 `json:"nsecs"`
}

// NewTime converts t to a ROS timestamp.
func NewTime(t time.Time) Time {
	return Time{Secs: uint32(t.Unix()), Nsecs: uint32(t.Nanosecond())}
}

// Time returns the timestamp as a time.Time.
func (t Time) Time() time.Time {
	return time.Unix(int64(t.Secs), int64(t.Nsecs))
}

// Header is the std_msgs/Header carried by stamped messages.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// BagMeta is the record metadata gobag attaches to every message it parses.
type BagMeta struct {
	Secs  int64  `json:"secs"`
	Nsecs int64  `json:"nsecs"`
	Topic string `json:"topic,omitempty"`
}

// Point is a geometry_msgs/Point or Point32.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewPoint converts v to a ROS point.
func NewPoint(v r3.Vector) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

// Vector returns the point as an r3.Vector.
func (p Point) Vector() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// Quaternion is a geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a geometry_msgs/Pose.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}
