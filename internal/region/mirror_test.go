package region

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubDetector struct {
	code  string
	err   error
	calls int
}

func (s *stubDetector) CountryCode(context.Context) (string, error) {
	s.calls++
	return s.code, s.err
}

func TestSelectMirror(t *testing.T) {
	t.Parallel()

	cases := []struct {
		country string
		want    Mirror
	}{
		{country: "CN", want: NpmMirror},
		{country: "cn", want: NpmMirror},
		{country: "  cn  ", want: NpmMirror},
		{country: "US", want: OfficialMirror},
		{country: "", want: OfficialMirror},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, SelectMirror(tc.country), "country %q", tc.country)
	}
}

func TestResolveMirror(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	m, err := ResolveMirror(ctx, "", nil, nil)
	require.NoError(t, err)
	require.Equal(t, OfficialMirror, m)

	m, err = ResolveMirror(ctx, "CN", nil, nil)
	require.NoError(t, err)
	require.Equal(t, NpmMirror, m)

	m, err = ResolveMirror(ctx, "https://mirror.example.com/node/", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "https://mirror.example.com/node", m.DistURL)
	require.Equal(t, "https://mirror.example.com/node/index.json", m.IndexURL())

	_, err = ResolveMirror(ctx, "ftp://nope", nil, nil)
	require.Error(t, err)
}

func TestResolveMirrorAuto(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	detector := &stubDetector{code: "CN"}
	m, err := ResolveMirror(ctx, "auto", detector, nil)
	require.NoError(t, err)
	require.Equal(t, NpmMirror, m)
	require.Equal(t, 1, detector.calls)

	failing := &stubDetector{err: errors.New("offline")}
	m, err = ResolveMirror(ctx, "auto", failing, nil)
	require.NoError(t, err)
	require.Equal(t, OfficialMirror, m)
}
