package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/repo/postgres"
)

func TestNotifPrefsRepo_Enabled_RowPresent(t *testing.T) {
	p := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = false
		return nil
	}}}
	repo := postgres.NewNotifPrefsRepo(p)
	enabled, err := repo.Enabled(context.Background(), "user-1", "job.completed")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestNotifPrefsRepo_Enabled_DefaultsOptedIn(t *testing.T) {
	p := &poolStub{row: rowStub{scan: func(dest ...any) error { return pgx.ErrNoRows }}}
	repo := postgres.NewNotifPrefsRepo(p)
	enabled, err := repo.Enabled(context.Background(), "user-1", "job.completed")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestNotifPrefsRepo_Enabled_PropagatesOtherErrors(t *testing.T) {
	wantErr := errors.New("connection reset")
	p := &poolStub{row: rowStub{scan: func(dest ...any) error { return wantErr }}}
	repo := postgres.NewNotifPrefsRepo(p)
	_, err := repo.Enabled(context.Background(), "user-1", "job.completed")
	require.Error(t, err)
}
