package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftSlotCapAndCooldown(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	out, err := client.ReserveDraftSlot(ctx, "conv-1", at, 2, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotGranted, out)

	out, err = client.ReserveDraftSlot(ctx, "conv-1", at.Add(time.Minute), 2, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotCoolingDown, out)

	out, err = client.ReserveDraftSlot(ctx, "conv-1", at.Add(3*time.Minute), 2, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotGranted, out)

	out, err = client.ReserveDraftSlot(ctx, "conv-1", at.Add(10*time.Minute), 2, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotCapReached, out)

	n, err := client.DraftCount(ctx, "conv-1", at)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// other conversations are independent
	out, err = client.ReserveDraftSlot(ctx, "conv-2", at.Add(time.Minute), 2, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotGranted, out)
}

func TestDraftSlotCooldownSpansMidnight(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()
	late := time.Date(2026, 9, 14, 23, 59, 0, 0, time.UTC)

	out, err := client.ReserveDraftSlot(ctx, "conv-1", late, 1, 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, SlotGranted, out)

	out, err = client.ReserveDraftSlot(ctx, "conv-1", late.Add(time.Minute), 1, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotCoolingDown, out)

	// new UTC day resets the cap
	out, err = client.ReserveDraftSlot(ctx, "conv-1", late.Add(5*time.Minute), 1, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, SlotGranted, out)
}

func TestReleaseDraftSlot(t *testing.T) {
	client := openSQLite(t)
	ctx := context.Background()
	at := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

	out, err := client.ReserveDraftSlot(ctx, "conv-1", at, 1, time.Hour)
	require.NoError(t, err)
	require.Equal(t, SlotGranted, out)

	require.NoError(t, client.ReleaseDraftSlot(ctx, "conv-1", at))
	n, err := client.DraftCount(ctx, "conv-1", at)
	require.NoError(t, err)
	assert.Zero(t, n)

	// neither the cap nor the cooldown hold after a release
	out, err = client.ReserveDraftSlot(ctx, "conv-1", at.Add(time.Second), 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, SlotGranted, out)

	// releasing an unknown conversation is a no-op
	require.NoError(t, client.ReleaseDraftSlot(ctx, "missing", at))
	n, err = client.DraftCount(ctx, "missing", at)
	require.NoError(t, err)
	assert.Zero(t, n)
}
