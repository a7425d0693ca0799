package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const sampleGoMod = `module example.com/app

go 1.22

require github.com/single/dep v1.0.0

require (
	github.com/gorilla/mux v1.8.1
	github.com/go-redis/redis/v8 v8.11.5 // indirect
	// github.com/commented/out v0.1.0
)
`

func TestGoModDependencies(t *testing.T) {
	deps, err := goModDependencies(strings.NewReader(sampleGoMod))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"github.com/single/dep",
		"github.com/gorilla/mux",
		"github.com/go-redis/redis",
	}, deps)
}

type fakeChecker struct {
	known map[string]float64
	fail  map[string]bool
}

func (f fakeChecker) CheckIOC(_ context.Context, value string, _ ...grpc.CallOption) (*structpb.Struct, error) {
	if f.fail[value] {
		return nil, errors.New("unavailable")
	}
	score, ok := f.known[value]
	return structpb.NewStruct(map[string]any{
		"exists":          ok,
		"value":           value,
		"confidenceScore": score,
		"sources":         []any{"urlhaus"},
	})
}

func TestScanDependencies(t *testing.T) {
	checker := fakeChecker{
		known: map[string]float64{"github.com/evil/pkg": 80, "github.com/meh/pkg": 10},
		fail:  map[string]bool{"github.com/down/pkg": true},
	}
	deps := []string{"github.com/gorilla/mux", "github.com/evil/pkg", "github.com/meh/pkg", "github.com/down/pkg"}

	var out bytes.Buffer
	found, err := scanDependencies(context.Background(), &out, checker, deps, 50, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, found)
	assert.Contains(t, out.String(), "🚨 [BLOCKED] github.com/evil/pkg -> urlhaus (Score: 80)")
	assert.Contains(t, out.String(), "✅ [CLEAN] github.com/meh/pkg")
	assert.Contains(t, out.String(), "✅ [CLEAN] github.com/gorilla/mux")
	assert.NotContains(t, out.String(), "github.com/down/pkg")
}

func TestScanDependencies_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scanDependencies(ctx, &bytes.Buffer{}, fakeChecker{}, []string{"a"}, 1, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterFlagsOptions(t *testing.T) {
	ff := filterFlags{severity: "high", iocType: "ip", from: "2024-03-01", search: "emotet"}
	opts, err := ff.options()
	require.NoError(t, err)

	assert.Equal(t, "high", string(opts.Severity))
	assert.Equal(t, "ip", string(opts.IOCType))
	assert.Equal(t, "emotet", opts.Search)
	require.NotNil(t, opts.DateFrom)
	assert.Equal(t, int64(1709251200000), *opts.DateFrom)
	assert.Nil(t, opts.DateTo)

	_, err = (&filterFlags{to: "yesterday"}).options()
	assert.Error(t, err)

	// a bare --to date includes the whole day
	opts, err = (&filterFlags{from: "2024-03-01", to: "2024-03-01"}).options()
	require.NoError(t, err)
	require.NotNil(t, opts.DateTo)
	assert.Equal(t, int64(1709251200000+86400000-1), *opts.DateTo)
}

func TestDashboardRejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []string{"0", "-5s"} {
		cmd := newDashboardCmd(&cliState{})
		cmd.SetArgs([]string{"--watch", "--interval=" + interval})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SilenceUsage = true

		err := cmd.ExecuteContext(context.Background())
		require.Error(t, err, interval)
		assert.Contains(t, err.Error(), "--interval must be positive")
	}
}
