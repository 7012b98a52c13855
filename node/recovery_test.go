package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrightID/BrightID-Node-sub000/model"
)

func setLevel(t *testing.T, e *Engine, from, to string, level model.Level, ts int64) {
	t.Helper()
	ctx := context.Background()
	err := e.store.PutConnection(ctx, &model.Connection{
		From: from, To: to, Level: level, Timestamp: ts, InitTimestamp: ts,
	})
	require.NoError(t, err)
	err = e.store.AppendConnectionHistory(ctx, from, to,
		model.ConnectionEvent{Level: level, Timestamp: ts})
	require.NoError(t, err)
}

func recoveryByID(conns []RecoveryConnection) map[string]RecoveryConnection {
	out := make(map[string]RecoveryConnection, len(conns))
	for _, rc := range conns {
		out[rc.ID] = rc
	}
	return out
}

// A user setting up social recovery for the first time gets a one-day
// window in which every designation is active immediately.
func TestRecoveryFirstDayWaiver(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	base := clock.Millis()

	setLevel(t, e, "a", "b", model.AlreadyKnown, base)
	for i, peer := range []string{"c", "d", "e", "f"} {
		setLevel(t, e, "a", peer, model.Recovery, base+int64(i)+1)
	}
	clock.Advance(time.Hour)

	conns, err := e.RecoveryConnections(ctx, "a")
	require.NoError(t, err)
	byID := recoveryByID(conns)

	require.NotContains(t, byID, "b")
	for _, peer := range []string{"c", "d", "e", "f"} {
		rc, ok := byID[peer]
		require.True(t, ok, peer)
		require.True(t, rc.IsActive, peer)
		require.Zero(t, rc.ActiveAfter)
		require.Zero(t, rc.ActiveBefore)
	}
}

// Designations made after the first-day window wait out the activation
// delay before they count.
func TestRecoveryActivationDelay(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	base := clock.Millis()

	setLevel(t, e, "a", "c", model.Recovery, base)

	clock.Advance(48 * time.Hour)
	setLevel(t, e, "a", "g", model.Recovery, clock.Millis())

	clock.Advance(time.Hour)
	conns, err := e.RecoveryConnections(ctx, "a")
	require.NoError(t, err)
	byID := recoveryByID(conns)

	rc := byID["g"]
	require.False(t, rc.IsActive)
	require.Equal(t, (recoveryActivation - time.Hour).Milliseconds(), rc.ActiveAfter)

	clock.Advance(recoveryActivation)
	conns, err = e.RecoveryConnections(ctx, "a")
	require.NoError(t, err)
	byID = recoveryByID(conns)
	require.True(t, byID["g"].IsActive)
	require.Zero(t, byID["g"].ActiveAfter)
}

// A revoked recovery connection keeps a grace window equal to the
// activation delay, so a key thief cannot disable the victim's helpers
// faster than the helpers can react.
func TestRecoveryRevocationGrace(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	base := clock.Millis()
	day := 24 * time.Hour

	setLevel(t, e, "a", "c", model.Recovery, base)
	clock.Advance(10 * day)
	setLevel(t, e, "a", "c", model.AlreadyKnown, clock.Millis())

	clock.Advance(2 * day)
	conns, err := e.RecoveryConnections(ctx, "a")
	require.NoError(t, err)
	byID := recoveryByID(conns)

	rc, ok := byID["c"]
	require.True(t, ok)
	require.True(t, rc.IsActive)
	require.Equal(t, (5 * day).Milliseconds(), rc.ActiveBefore)

	// Past the grace window the revocation takes full effect.
	clock.Advance(6 * day)
	conns, err = e.RecoveryConnections(ctx, "a")
	require.NoError(t, err)
	require.NotContains(t, recoveryByID(conns), "c")
}

// Re-designating within the activation window does not restart the clock:
// periods are read from the append-only history, so a brief revocation
// splits one period into two without erasing the first.
func TestRecoveryPeriodsFromHistory(t *testing.T) {
	now := int64(100 * 24 * time.Hour / time.Millisecond)
	day := int64(24 * time.Hour / time.Millisecond)

	history := []model.ConnectionEvent{
		{Level: model.Recovery, Timestamp: now - 20*day},
		{Level: model.AlreadyKnown, Timestamp: now - 10*day},
		{Level: model.Recovery, Timestamp: now - 9*day},
	}
	periods := recoveryPeriods(history, now)
	require.Len(t, periods, 2)
	require.Equal(t, now-20*day, periods[0].start)
	require.Equal(t, now-10*day, periods[0].end)
	require.False(t, periods[0].open)
	require.Equal(t, now-9*day, periods[1].start)
	require.True(t, periods[1].open)

	// The open period already exceeds the activation delay on its own.
	isActive, after, before := evalRecovery(periods, 0, now)
	require.True(t, isActive)
	require.Zero(t, after)
	require.Zero(t, before)
}
