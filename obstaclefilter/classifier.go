package obstaclefilter

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"

	"github.com/MShields1986/reuleaux/reachability"
)

// Result is the partition of a reachability map into samples clear of obstacles and samples
// colliding with them. Both maps share the input's header and resolution.
type Result struct {
	Filtered  *reachability.Map
	Colliding *reachability.Map
}

// Classify partitions the samples of m using idx under policy. Sample order is preserved in both
// halves of the result. Samples with non finite coordinates are colliding.
func Classify(m *reachability.Map, idx *Index, policy Policy, logger golog.Logger) Result {
	var collides func(p r3.Vector) bool
	switch policy {
	case PolicyVoxel:
		collides = func(p r3.Vector) bool {
			return len(idx.VoxelSearch(p)) > 0
		}
	case PolicyInscribedSphere, PolicyCircumscribedSphere:
		radius := policy.Radius(m.Resolution)
		collides = func(p r3.Vector) bool {
			return len(idx.RadiusSearch(p, radius)) > 0
		}
	default:
		logger.Warnw("unknown policy, treating every sample as colliding", "policy", int(policy))
		collides = func(r3.Vector) bool { return true }
	}

	// a sample without a usable position cannot be shown to be clear of obstacles
	filtered, colliding := m.Partition(func(p r3.Vector) bool {
		return !finite(p) || collides(p)
	})
	logger.Infow("reachability map filtered",
		"policy", policy.String(),
		"colliding", colliding.Len(),
		"remaining", filtered.Len(),
	)
	return Result{Filtered: filtered, Colliding: colliding}
}

func finite(p r3.Vector) bool {
	n := p.Norm2()
	return !math.IsNaN(n) && !math.IsInf(n, 0)
}
