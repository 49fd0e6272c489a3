package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/core/domain"
)

func TestParseVersion(t *testing.T) {
	v, err := domain.ParseVersion("1.2.3-beta.1+build.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Major())
	assert.Equal(t, uint64(2), v.Minor())
	assert.Equal(t, uint64(3), v.Patch())
	assert.Equal(t, "beta.1", v.Prerelease())
	assert.Equal(t, "1.2.3-beta.1+build.5", v.String())

	_, err = domain.ParseVersion("1.2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrInvalidVersion.Error())
}

func TestVersion_IsComparableKey(t *testing.T) {
	a := domain.MustParseVersion("1.0.0")
	b := domain.MustParseVersion("1.0.0")
	m := map[domain.Version]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestVersion_Compare(t *testing.T) {
	ordered := []string{"0.9.9", "1.0.0-alpha", "1.0.0-beta", "1.0.0", "1.0.1", "1.10.0", "2.0.0"}
	for i := 1; i < len(ordered); i++ {
		lo := domain.MustParseVersion(ordered[i-1])
		hi := domain.MustParseVersion(ordered[i])
		assert.Negative(t, lo.Compare(hi), "%s < %s", lo, hi)
		assert.Positive(t, hi.Compare(lo), "%s > %s", hi, lo)
	}
}

func TestParseVersionReq(t *testing.T) {
	tests := []struct {
		req     string
		match   []string
		noMatch []string
	}{
		{req: "*", match: []string{"0.0.1", "9.9.9"}},
		{req: "", match: []string{"1.0.0"}},
		{req: "=1.2.3", match: []string{"1.2.3"}, noMatch: []string{"1.2.4", "1.2.2"}},
		{req: ">=1.2", match: []string{"1.2.0", "3.0.0"}, noMatch: []string{"1.1.9"}},
		{req: "<2.0.0", match: []string{"1.9.9"}, noMatch: []string{"2.0.0"}},
		{req: "^1.2.3", match: []string{"1.2.3", "1.9.0"}, noMatch: []string{"2.0.0", "1.2.2"}},
		{req: "1.2", match: []string{"1.2.0", "1.5.1"}, noMatch: []string{"2.0.0", "1.1.0"}},
		{req: "^0.2.3", match: []string{"0.2.9"}, noMatch: []string{"0.3.0"}},
		{req: "~1.2", match: []string{"1.2.7"}, noMatch: []string{"1.3.0"}},
		{req: ">=1.0, <1.5", match: []string{"1.4.9"}, noMatch: []string{"1.5.0", "0.9.0"}},
		{req: "1.0 || 2.0", match: []string{"1.3.0", "2.0.0", "2.5.1"}, noMatch: []string{"0.9.0", "3.0.0"}},
		{req: "=1.0.0 || >=1.5, <2.0", match: []string{"1.0.0", "1.7.0"}, noMatch: []string{"1.2.0", "2.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			req, err := domain.ParseVersionReq(tt.req)
			require.NoError(t, err)
			for _, v := range tt.match {
				assert.True(t, req.Matches(domain.MustParseVersion(v)), "%s should match %s", tt.req, v)
			}
			for _, v := range tt.noMatch {
				assert.False(t, req.Matches(domain.MustParseVersion(v)), "%s should not match %s", tt.req, v)
			}
		})
	}
}

func TestParseVersionReq_Malformed(t *testing.T) {
	for _, raw := range []string{">=banana", "1.0,,2.0", "^^1", "=x.y.z", "1.0 ||", "|| 2.0"} {
		_, err := domain.ParseVersionReq(raw)
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), domain.ErrInvalidVersionReq.Error())
	}
}

func TestVersionReq_String(t *testing.T) {
	assert.Equal(t, "^1.2", domain.MustParseVersionReq("^1.2").String())
	assert.Equal(t, "*", domain.AnyVersion().String())
	assert.True(t, domain.AnyVersion().IsAny())
	assert.Equal(t, "=1.0.0", domain.ExactVersion(domain.MustParseVersion("1.0.0")).String())
	assert.True(t, domain.VersionReq{}.Matches(domain.MustParseVersion("3.0.0")))
}
