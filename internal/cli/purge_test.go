package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lasso/internal/store"
)

func TestPurge_RemovesOldClaims(t *testing.T) {
	db := seedDB(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)
	_, err = st.ClaimSeenEvent(ctx, "1:old", old, 24*time.Hour)
	require.NoError(t, err)
	_, err = st.ClaimSeenEvent(ctx, "1:new", time.Now(), 24*time.Hour)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "purge", "--db", db, "--format", "json")
	require.NoError(t, err)
	res := decodeData[PurgeResult](t, out)
	assert.Equal(t, int64(1), res.SeenEvents)
	assert.Equal(t, int64(0), res.AppliedEvents)
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), res.Cutoff, time.Minute)

	out, err = execute(t, "purge", "--db", db, "--older-than", "48h")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 0 seen events and 0 applied events")
}

func TestPurge_CutoffInsideWindowRefused(t *testing.T) {
	db := seedDB(t)

	_, err := execute(t, "purge", "--db", db, "--older-than", "1h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than the dedup window")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
