package obstaclefilter

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestParsePolicy(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Policy
	}{
		{"", PolicyCircumscribedSphere},
		{"voxel", PolicyVoxel},
		{"VOXEL", PolicyVoxel},
		{"inscribe", PolicyInscribedSphere},
		{"Inscribed-Sphere", PolicyInscribedSphere},
		{"inscribed_sphere", PolicyInscribedSphere},
		{"circumscribe", PolicyCircumscribedSphere},
		{" Circumscribed ", PolicyCircumscribedSphere},
		{"circumscribed-sphere", PolicyCircumscribedSphere},
	} {
		t.Run(tc.in, func(t *testing.T) {
			p, err := ParsePolicy(tc.in)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p, test.ShouldEqual, tc.expected)
		})
	}

	_, err := ParsePolicy("sphere")
	test.That(t, errors.Is(err, ErrUnknownPolicy), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"sphere"`)
}

func TestPolicyRadius(t *testing.T) {
	test.That(t, PolicyVoxel.Radius(2), test.ShouldEqual, 0.0)
	test.That(t, PolicyInscribedSphere.Radius(2), test.ShouldEqual, 1.0)
	test.That(t, PolicyCircumscribedSphere.Radius(2), test.ShouldAlmostEqual, math.Sqrt(3))
	test.That(t, PolicyCircumscribedSphere.Radius(1), test.ShouldBeGreaterThan, PolicyInscribedSphere.Radius(1))
}

func TestPolicyString(t *testing.T) {
	for _, p := range []Policy{PolicyVoxel, PolicyInscribedSphere, PolicyCircumscribedSphere} {
		parsed, err := ParsePolicy(p.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, p)
	}
	test.That(t, Policy(42).String(), test.ShouldEqual, "unknown")
}
