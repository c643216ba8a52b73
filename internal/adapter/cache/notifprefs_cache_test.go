package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

type fakeNotifPrefs struct {
	calls   int
	enabled bool
	err     error
}

func (f *fakeNotifPrefs) Enabled(_ domain.Context, _, _ string) (bool, error) {
	f.calls++
	return f.enabled, f.err
}

func TestNotifPrefsCache_NilRedisPassesThrough(t *testing.T) {
	next := &fakeNotifPrefs{enabled: true}
	c := NewNotifPrefsCache(next, nil)

	enabled, err := c.Enabled(context.Background(), "user-1", "job.completed")
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, 1, next.calls)

	_, _ = c.Enabled(context.Background(), "user-1", "job.completed")
	assert.Equal(t, 2, next.calls, "nil redis client must never cache")
}

func TestNotifPrefsCache_PropagatesNextError(t *testing.T) {
	next := &fakeNotifPrefs{err: assert.AnError}
	c := NewNotifPrefsCache(next, nil)

	_, err := c.Enabled(context.Background(), "user-1", "job.completed")
	require.Error(t, err)
}
