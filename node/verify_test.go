package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
)

func TestVerifyRejectsBadSignature(t *testing.T) {
	e, clock := newTestEngine(t)
	a := newIdentity(t)
	b := newIdentity(t)
	other := newIdentity(t)

	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: a.id, ID2: b.id, Level: model.JustMet,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = other.sign(t, op)

	_, err := e.Submit(context.Background(), op)
	require.True(t, protocol.IsCode(err, protocol.ErrorInvalidSignature))
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	e, clock := newTestEngine(t)
	a := newIdentity(t)
	b := newIdentity(t)

	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: a.id, ID2: b.id, Level: model.JustMet,
		Timestamp: clock.Millis(),
		Sig1:      "not base64!",
	}
	_, err := e.Submit(context.Background(), op)
	require.True(t, protocol.IsCode(err, protocol.ErrorInvalidSignatureFormat))
}

// A signature over the old v5 concatenated message format is still
// accepted for the kinds that existed then.
func TestVerifyLegacyConnectMessage(t *testing.T) {
	e, clock := newTestEngine(t)
	a := newIdentity(t)
	b := newIdentity(t)

	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 5,
		ID1: a.id, ID2: b.id, Level: model.AlreadyKnown,
		Timestamp: clock.Millis(),
	}
	legacy, ok := protocol.LegacyMessage(op)
	require.True(t, ok)
	sig, err := a.priv.Sign(legacy)
	require.NoError(t, err)
	op.Sig1 = sig.String()

	_, err = e.Submit(context.Background(), op)
	require.NoError(t, err)
}

// After a rotation, signatures made with a displaced key still verify
// through the key history.
func TestVerifyAcceptsHistoricalKey(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	old := newIdentity(t)
	fresh := newIdentity(t)
	b := newIdentity(t)

	require.NoError(t, e.store.PutUser(ctx, &model.User{
		ID:          old.id,
		SigningKeys: []string{fresh.pub.String()},
		CreatedAt:   clock.Millis(),
	}))
	require.NoError(t, e.store.AppendSigningKeyHistory(ctx, old.id, old.pub.String(), clock.Millis()))

	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: old.id, ID2: b.id, Level: model.JustMet,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = old.sign(t, op)

	_, err := e.Submit(ctx, op)
	require.NoError(t, err)
}

func setSigningKeyOp(t *testing.T, clock *fakeClock, target, newKey string, r1, r2 *testIdentity) *protocol.Operation {
	t.Helper()
	op := &protocol.Operation{
		Name: protocol.KindSetSigningKey, V: 6,
		ID: target, ID1: r1.id, ID2: r2.id,
		SigningKey: newKey,
		Timestamp:  clock.Millis(),
	}
	op.Sig1 = r1.sign(t, op)
	op.Sig2 = r2.sign(t, op)
	return op
}

// Key rotation needs two distinct, currently active recovery connections
// of the target.
func TestVerifyKeyRotationAuthorization(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	target := newIdentity(t)
	r1 := newIdentity(t)
	r2 := newIdentity(t)
	stranger := newIdentity(t)
	replacement := newIdentity(t)

	putUser(t, e, target)
	putUser(t, e, r1)
	putUser(t, e, r2)
	putUser(t, e, stranger)

	ts := clock.Millis()
	setLevel(t, e, target.id, r1.id, model.Recovery, ts)
	setLevel(t, e, target.id, r2.id, model.Recovery, ts)
	clock.Advance(time.Hour)

	op := setSigningKeyOp(t, clock, target.id, replacement.pub.String(), r1, r2)
	hash, err := e.Submit(ctx, op)
	require.NoError(t, err)

	applied, err := e.Apply(ctx, hash, clock.Millis())
	require.NoError(t, err)
	require.Equal(t, protocol.StateApplied, applied.State)

	u, err := e.store.User(ctx, target.id)
	require.NoError(t, err)
	require.Equal(t, []string{replacement.pub.String()}, u.SigningKeys)

	// The displaced key lands on the history.
	history, err := e.store.SigningKeyHistory(ctx, target.id)
	require.NoError(t, err)
	require.Contains(t, history, target.pub.String())
}

func TestVerifyKeyRotationRejectsDuplicateSigners(t *testing.T) {
	e, clock := newTestEngine(t)
	target := newIdentity(t)
	r1 := newIdentity(t)
	replacement := newIdentity(t)

	putUser(t, e, target)
	putUser(t, e, r1)
	setLevel(t, e, target.id, r1.id, model.Recovery, clock.Millis())
	clock.Advance(time.Hour)

	op := setSigningKeyOp(t, clock, target.id, replacement.pub.String(), r1, r1)
	_, err := e.Submit(context.Background(), op)
	require.True(t, protocol.IsCode(err, protocol.ErrorDuplicateSigners))
}

func TestVerifyKeyRotationRejectsInactiveRecovery(t *testing.T) {
	e, clock := newTestEngine(t)
	target := newIdentity(t)
	r1 := newIdentity(t)
	r2 := newIdentity(t)
	replacement := newIdentity(t)

	putUser(t, e, target)
	putUser(t, e, r1)
	putUser(t, e, r2)

	// r2 was designated after the first-day window and has not waited out
	// the activation delay.
	setLevel(t, e, target.id, r1.id, model.Recovery, clock.Millis())
	clock.Advance(48 * time.Hour)
	setLevel(t, e, target.id, r2.id, model.Recovery, clock.Millis())
	clock.Advance(time.Hour)

	op := setSigningKeyOp(t, clock, target.id, replacement.pub.String(), r1, r2)
	_, err := e.Submit(context.Background(), op)
	require.True(t, protocol.IsCode(err, protocol.ErrorIneligibleRecoveryConnection))
}
