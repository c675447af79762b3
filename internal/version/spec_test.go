package version

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liangyou/nodevm/internal/nvmerr"
)

func TestParseSpec(t *testing.T) {
	t.Parallel()

	cases := []struct {
		token string
		want  Spec
	}{
		{"20", Spec{Kind: SpecPartial, Major: 20, Segments: 1}},
		{"20.3", Spec{Kind: SpecPartial, Major: 20, Minor: 3, Segments: 2}},
		{"20.3.1", Spec{Kind: SpecExact, Major: 20, Minor: 3, Patch: 1, Segments: 3}},
		{"v18.9.0", Spec{Kind: SpecExact, Major: 18, Minor: 9, Segments: 3}},
		{" 16 ", Spec{Kind: SpecPartial, Major: 16, Segments: 1}},
		{"latest", Spec{Kind: SpecAlias, Alias: AliasLatest}},
		{"LTS", Spec{Kind: SpecAlias, Alias: AliasLTS}},
	}
	for _, tc := range cases {
		got, err := ParseSpec(tc.token)
		require.NoError(t, err, tc.token)
		require.Equal(t, tc.want, got, tc.token)
	}
}

func TestParseSpecRejects(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "v", "20.", ".1", "20.1.0.4", "20.x", "^20", ">=18", "node", "20.1.0-rc.1", "-1", "99999999999999999999"} {
		_, err := ParseSpec(token)
		require.ErrorIs(t, err, nvmerr.ErrParse, "token %q", token)
	}
}

func TestParseSpecRoundTrip(t *testing.T) {
	t.Parallel()

	for major := 0; major < 25; major += 3 {
		for minor := 0; minor < 12; minor += 5 {
			for _, token := range []string{
				fmt.Sprint(major),
				fmt.Sprintf("%d.%d", major, minor),
				fmt.Sprintf("%d.%d.%d", major, minor, major+minor),
			} {
				spec, err := ParseSpec(token)
				require.NoError(t, err)
				again, err := ParseSpec(spec.String())
				require.NoError(t, err)
				require.Equal(t, spec, again)
				require.Equal(t, token, spec.String())
			}
		}
	}
}

func TestParseUninstallSpec(t *testing.T) {
	t.Parallel()

	spec, err := ParseUninstallSpec("", true)
	require.NoError(t, err)
	require.Equal(t, LocalLatest(), spec)

	spec, err = ParseUninstallSpec("latest", false)
	require.NoError(t, err)
	require.Equal(t, ScopeLocal, spec.Scope)

	spec, err = ParseUninstallSpec("18", false)
	require.NoError(t, err)
	require.Equal(t, SpecPartial, spec.Kind)

	_, err = ParseUninstallSpec("nope", false)
	require.ErrorIs(t, err, nvmerr.ErrParse)
}

func TestSpecMatches(t *testing.T) {
	t.Parallel()

	partial, _ := ParseSpec("20")
	require.True(t, partial.Matches("20.1.0"))
	require.True(t, partial.Matches("20.14.3"))
	require.False(t, partial.Matches("2.0.0"))
	require.False(t, partial.Matches("200.0.0"))

	minor, _ := ParseSpec("20.3")
	require.True(t, minor.Matches("20.3.9"))
	require.False(t, minor.Matches("20.30.0"))

	exact, _ := ParseSpec("20.3.1")
	require.True(t, exact.Matches("20.3.1"))
	require.False(t, exact.Matches("20.3.10"))

	alias, _ := ParseSpec("latest")
	require.False(t, alias.Matches("20.3.1"))
}

func TestCompare(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, Compare("20.10.0", "20.9.9"))
	require.Equal(t, -1, Compare("9.0.0", "10.0.0"))
	require.Equal(t, 0, Compare("v18.0.0", "18.0.0"))
	require.True(t, IsValidNumber("20.1.0"))
	require.False(t, IsValidNumber("20.1"))
	require.False(t, IsValidNumber("20.1.0-rc.1"))
}
