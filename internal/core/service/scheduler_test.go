package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddAndRunNow(t *testing.T) {
	s := NewScheduler(nil)

	runs := 0
	require.NoError(t, s.Add(&Job{Name: "tick", Schedule: "@every 1h", Run: func(context.Context) error {
		runs++
		return nil
	}}))
	require.NoError(t, s.Add(&Job{Name: "fail", Schedule: "@hourly", Run: func(context.Context) error {
		return errors.New("boom")
	}}))

	err := s.Add(&Job{Name: "bad", Schedule: "every tuesday", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)

	require.NoError(t, s.RunNow("tick"))
	assert.Error(t, s.RunNow("fail"))
	assert.Error(t, s.RunNow("missing"))
	assert.Equal(t, 1, runs)

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, int64(1), status[0].RunCount)
	assert.Equal(t, int64(1), status[1].ErrorCount)
	assert.Equal(t, "boom", status[1].LastError)

	s.Start()
	s.Stop()
}

func TestNewThreatScheduler(t *testing.T) {
	f := newFixture(t, WithProviders(advisoryProvider()))

	s, err := NewThreatScheduler(f.svc, "", "", nil)
	require.NoError(t, err)

	require.NoError(t, s.RunNow("collect"))
	require.NoError(t, s.RunNow("summarize"))

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, DefaultCollectSchedule, status[0].Schedule)
	assert.Equal(t, DefaultSummarizeSchedule, status[1].Schedule)

	_, err = NewThreatScheduler(f.svc, "nonsense", "", nil)
	assert.Error(t, err)
}
