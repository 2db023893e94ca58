package obstaclefilter

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Policy selects the geometric test deciding whether a sample collides with the obstacles.
type Policy int

const (
	// PolicyCircumscribedSphere collides a sample when an obstacle point lies within the sphere
	// circumscribing its cell.
	PolicyCircumscribedSphere Policy = iota
	// PolicyInscribedSphere collides a sample when an obstacle point lies within half a cell of it.
	PolicyInscribedSphere
	// PolicyVoxel collides a sample when an obstacle point lies in the sample's grid cell.
	PolicyVoxel

	// DefaultPolicy is used when no policy is named. It is the zero Policy.
	DefaultPolicy = PolicyCircumscribedSphere
)

// ErrUnknownPolicy is returned by ParsePolicy for names it does not recognize.
var ErrUnknownPolicy = errors.New("unknown filter policy")

var policyNames = map[string]Policy{
	"voxel":                PolicyVoxel,
	"inscribed-sphere":     PolicyInscribedSphere,
	"inscribed_sphere":     PolicyInscribedSphere,
	"inscribed":            PolicyInscribedSphere,
	"inscribe":             PolicyInscribedSphere,
	"circumscribed-sphere": PolicyCircumscribedSphere,
	"circumscribed_sphere": PolicyCircumscribedSphere,
	"circumscribed":        PolicyCircumscribedSphere,
	"circumscribe":         PolicyCircumscribedSphere,
}

// ParsePolicy returns the policy named by s, ignoring case. The empty string selects
// DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return DefaultPolicy, nil
	}
	p, ok := policyNames[name]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownPolicy, "%q", s)
	}
	return p, nil
}

func (p Policy) String() string {
	switch p {
	case PolicyVoxel:
		return "voxel"
	case PolicyInscribedSphere:
		return "inscribed-sphere"
	case PolicyCircumscribedSphere:
		return "circumscribed-sphere"
	default:
		return "unknown"
	}
}

// Radius returns the search radius of a sphere policy at the given resolution, and 0 for
// PolicyVoxel.
func (p Policy) Radius(resolution float64) float64 {
	switch p {
	case PolicyInscribedSphere:
		return resolution / 2
	case PolicyCircumscribedSphere:
		return math.Sqrt(3) * resolution / 2
	default:
		return 0
	}
}
