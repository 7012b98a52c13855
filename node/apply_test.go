package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

func connectOp(t *testing.T, clock *fakeClock, from *testIdentity, to string, level model.Level) *protocol.Operation {
	t.Helper()
	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: from.id, ID2: to, Level: level,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = from.sign(t, op)
	return op
}

func TestApplyConnectCreatesUsers(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)

	applied := submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.JustMet))
	require.Equal(t, protocol.StateApplied, applied.State)

	for _, id := range []string{a.id, b.id} {
		u, err := e.store.User(ctx, id)
		require.NoError(t, err)
		require.Len(t, u.SigningKeys, 1)
	}
	c, err := e.store.Connection(ctx, a.id, b.id)
	require.NoError(t, err)
	require.Equal(t, model.JustMet, c.Level)
}

func TestApplyConnectAssignsParent(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)
	putUser(t, e, a, verifiedCredential)

	submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.JustMet))

	u, err := e.store.User(ctx, b.id)
	require.NoError(t, err)
	require.Equal(t, a.id, u.Parent)
}

func TestApplyConnectAssignsParentToNewInitiator(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)
	putUser(t, e, b, verifiedCredential)

	// The new user initiates the connection to the verified one.
	submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.JustMet))

	u, err := e.store.User(ctx, a.id)
	require.NoError(t, err)
	require.Equal(t, b.id, u.Parent)

	bucket, err := e.senderBucket(ctx, a.id)
	require.NoError(t, err)
	require.Equal(t, "shared_"+b.id, bucket)
}

func TestApplyConnectFailedReplacementCreatesNoUsers(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)

	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: a.id, ID2: b.id, Level: model.Reported,
		ReportReason: "duplicate", ReplacedWith: newIdentity(t).id,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = a.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateFailed, applied.State)

	for _, id := range []string{a.id, b.id} {
		_, err := e.store.User(ctx, id)
		require.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestApplyConnectKeepsInitTimestamp(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)

	submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.JustMet))
	first := clock.Millis()

	clock.Advance(time.Hour)
	submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.AlreadyKnown))

	c, err := e.store.Connection(ctx, a.id, b.id)
	require.NoError(t, err)
	require.Equal(t, model.AlreadyKnown, c.Level)
	require.Equal(t, first, c.InitTimestamp)
	require.Equal(t, clock.Millis(), c.Timestamp)

	history, err := e.store.ConnectionHistory(ctx, a.id, b.id)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestApplyConnectReportWithReplacement(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	b := newIdentity(t)
	c := newIdentity(t)

	submitAndApply(t, e, clock, connectOp(t, clock, a, b.id, model.JustMet))
	clock.Advance(time.Minute)

	// Replacement target does not exist: recorded as failed, not rejected.
	op := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: a.id, ID2: b.id, Level: model.Reported,
		ReportReason: "duplicate", ReplacedWith: c.id,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = a.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateFailed, applied.State)
	require.Contains(t, applied.Result, "not found")

	// Once the replacement account exists the report goes through.
	putUser(t, e, c)
	clock.Advance(time.Minute)
	op2 := &protocol.Operation{
		Name: protocol.KindConnect, V: 6,
		ID1: a.id, ID2: b.id, Level: model.Reported,
		ReportReason: "duplicate", ReplacedWith: c.id,
		Timestamp: clock.Millis(),
	}
	op2.Sig1 = a.sign(t, op2)
	applied = submitAndApply(t, e, clock, op2)
	require.Equal(t, protocol.StateApplied, applied.State)

	conn, err := e.store.Connection(ctx, a.id, b.id)
	require.NoError(t, err)
	require.Equal(t, model.Reported, conn.Level)
	require.Equal(t, c.id, conn.ReplacedWith)
}

// newGroupScenario builds a founder with two mutually connected peers and
// returns all three identities.
func newGroupScenario(t *testing.T, e *Engine, clock *fakeClock) (founder, m2, m3 *testIdentity) {
	t.Helper()
	founder = newIdentity(t)
	m2 = newIdentity(t)
	m3 = newIdentity(t)
	for _, ti := range []*testIdentity{founder, m2, m3} {
		putUser(t, e, ti)
	}
	ts := clock.Millis()
	connectMutually(t, e, founder.id, m2.id, model.AlreadyKnown, ts)
	connectMutually(t, e, founder.id, m3.id, model.AlreadyKnown, ts)
	connectMutually(t, e, m2.id, m3.id, model.AlreadyKnown, ts)
	return founder, m2, m3
}

func addGroupOp(t *testing.T, clock *fakeClock, founder *testIdentity, groupID string, gt model.GroupType) *protocol.Operation {
	t.Helper()
	op := &protocol.Operation{
		Name: protocol.KindAddGroup, V: 6,
		ID1: founder.id, Group: groupID, Type: gt, URL: "https://example.org/" + groupID,
		Timestamp: clock.Millis(),
	}
	op.Sig1 = founder.sign(t, op)
	return op
}

func inviteOp(t *testing.T, clock *fakeClock, inviter *testIdentity, invitee, groupID string) *protocol.Operation {
	t.Helper()
	op := &protocol.Operation{
		Name: protocol.KindInvite, V: 6,
		Inviter: inviter.id, Invitee: invitee, Group: groupID,
		Data:      "encrypted-group-key",
		Timestamp: clock.Millis(),
	}
	op.Sig = inviter.sign(t, op)
	return op
}

func joinOp(t *testing.T, clock *fakeClock, joiner *testIdentity, groupID string) *protocol.Operation {
	t.Helper()
	op := &protocol.Operation{
		Name: protocol.KindAddMembership, V: 6,
		ID: joiner.id, Group: groupID,
		Timestamp: clock.Millis(),
	}
	op.Sig = joiner.sign(t, op)
	return op
}

func TestApplyGroupLifecycle(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	founder, m2, _ := newGroupScenario(t, e, clock)

	applied := submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "g1", model.General))
	require.Equal(t, protocol.StateApplied, applied.State)

	g, err := e.store.Group(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{founder.id}, g.Admins)
	isMember, err := e.store.IsMember(ctx, "g1", founder.id)
	require.NoError(t, err)
	require.True(t, isMember)

	// Joining without an invite fails.
	clock.Advance(time.Minute)
	applied = submitAndApply(t, e, clock, joinOp(t, clock, m2, "g1"))
	require.Equal(t, protocol.StateFailed, applied.State)

	clock.Advance(time.Minute)
	applied = submitAndApply(t, e, clock, inviteOp(t, clock, founder, m2.id, "g1"))
	require.Equal(t, protocol.StateApplied, applied.State)

	clock.Advance(time.Minute)
	applied = submitAndApply(t, e, clock, joinOp(t, clock, m2, "g1"))
	require.Equal(t, protocol.StateApplied, applied.State)

	// The invite is single use.
	_, err = e.store.Invite(ctx, m2.id, "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyExpiredInvite(t *testing.T) {
	e, clock := newTestEngine(t)
	founder, m2, _ := newGroupScenario(t, e, clock)

	submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "g1", model.General))
	clock.Advance(time.Minute)
	submitAndApply(t, e, clock, inviteOp(t, clock, founder, m2.id, "g1"))

	clock.Advance(e.cfg.InviteTTL + time.Hour)
	applied := submitAndApply(t, e, clock, joinOp(t, clock, m2, "g1"))
	require.Equal(t, protocol.StateFailed, applied.State)
	require.Contains(t, applied.Result, "expired")
}

func TestApplyFamilyGroupAndVouch(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	founder, m2, m3 := newGroupScenario(t, e, clock)

	submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "f1", model.Family))
	g, err := e.store.Group(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, founder.id, g.Head)

	// A second family headed by the same user is rejected.
	clock.Advance(time.Minute)
	applied := submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "f2", model.Family))
	require.Equal(t, protocol.StateFailed, applied.State)

	clock.Advance(time.Minute)
	submitAndApply(t, e, clock, inviteOp(t, clock, founder, m2.id, "f1"))
	clock.Advance(time.Minute)
	applied = submitAndApply(t, e, clock, joinOp(t, clock, m2, "f1"))
	require.Equal(t, protocol.StateApplied, applied.State)

	// m3 is mutually connected to both members and may vouch.
	voucher := m3
	clock.Advance(time.Minute)
	op := &protocol.Operation{
		Name: protocol.KindVouchFamily, V: 6,
		ID: voucher.id, Group: "f1",
		Timestamp: clock.Millis(),
	}
	op.Sig = voucher.sign(t, op)
	applied = submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateApplied, applied.State)

	g, err = e.store.Group(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []string{voucher.id}, g.Vouchers)

	// Vouching twice is rejected.
	clock.Advance(time.Minute)
	op2 := &protocol.Operation{
		Name: protocol.KindVouchFamily, V: 6,
		ID: voucher.id, Group: "f1",
		Timestamp: clock.Millis(),
	}
	op2.Sig = voucher.sign(t, op2)
	applied = submitAndApply(t, e, clock, op2)
	require.Equal(t, protocol.StateFailed, applied.State)

	// A membership change invalidates the vouch.
	clock.Advance(time.Minute)
	leave := &protocol.Operation{
		Name: protocol.KindRemoveMembership, V: 6,
		ID: m2.id, Group: "f1",
		Timestamp: clock.Millis(),
	}
	leave.Sig = m2.sign(t, leave)
	applied = submitAndApply(t, e, clock, leave)
	require.Equal(t, protocol.StateApplied, applied.State)

	g, err = e.store.Group(ctx, "f1")
	require.NoError(t, err)
	require.Empty(t, g.Vouchers)
}

func TestApplyDismissAndAdmins(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	founder, m2, _ := newGroupScenario(t, e, clock)

	submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "g1", model.General))
	clock.Advance(time.Minute)
	submitAndApply(t, e, clock, inviteOp(t, clock, founder, m2.id, "g1"))
	clock.Advance(time.Minute)
	submitAndApply(t, e, clock, joinOp(t, clock, m2, "g1"))

	// Only admins may dismiss.
	clock.Advance(time.Minute)
	op := &protocol.Operation{
		Name: protocol.KindDismiss, V: 6,
		Dismisser: m2.id, Dismissee: founder.id, Group: "g1",
		Timestamp: clock.Millis(),
	}
	op.Sig = m2.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateFailed, applied.State)

	// Promote m2, then it can dismiss.
	clock.Advance(time.Minute)
	promote := &protocol.Operation{
		Name: protocol.KindAddAdmin, V: 6,
		ID: founder.id, Admin: m2.id, Group: "g1",
		Timestamp: clock.Millis(),
	}
	promote.Sig = founder.sign(t, promote)
	applied = submitAndApply(t, e, clock, promote)
	require.Equal(t, protocol.StateApplied, applied.State)

	clock.Advance(time.Minute)
	dismiss := &protocol.Operation{
		Name: protocol.KindDismiss, V: 6,
		Dismisser: m2.id, Dismissee: founder.id, Group: "g1",
		Timestamp: clock.Millis(),
	}
	dismiss.Sig = m2.sign(t, dismiss)
	applied = submitAndApply(t, e, clock, dismiss)
	require.Equal(t, protocol.StateApplied, applied.State)

	g, err := e.store.Group(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, []string{m2.id}, g.Admins)
	isMember, err := e.store.IsMember(ctx, "g1", founder.id)
	require.NoError(t, err)
	require.False(t, isMember)
}

func TestApplyRemoveGroup(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	founder, _, _ := newGroupScenario(t, e, clock)

	submitAndApply(t, e, clock, addGroupOp(t, clock, founder, "g1", model.General))

	clock.Advance(time.Minute)
	op := &protocol.Operation{
		Name: protocol.KindRemoveGroup, V: 6,
		ID: founder.id, Group: "g1",
		Timestamp: clock.Millis(),
	}
	op.Sig = founder.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateApplied, applied.State)

	_, err := e.store.Group(ctx, "g1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplySigningKeyManagement(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	extra := newIdentity(t)
	putUser(t, e, a)

	addKey := &protocol.Operation{
		Name: protocol.KindAddSigningKey, V: 6,
		ID: a.id, SigningKey: extra.pub.String(),
		Timestamp: clock.Millis(),
	}
	addKey.Sig = a.sign(t, addKey)
	applied := submitAndApply(t, e, clock, addKey)
	require.Equal(t, protocol.StateApplied, applied.State)

	u, err := e.store.User(ctx, a.id)
	require.NoError(t, err)
	require.Len(t, u.SigningKeys, 2)

	// The added key signs the next operation.
	clock.Advance(time.Minute)
	removeKey := &protocol.Operation{
		Name: protocol.KindRemoveSigningKey, V: 6,
		ID: a.id, SigningKey: a.pub.String(),
		Timestamp: clock.Millis(),
	}
	removeKey.Sig = extra.sign(t, removeKey)
	applied = submitAndApply(t, e, clock, removeKey)
	require.Equal(t, protocol.StateApplied, applied.State)

	u, err = e.store.User(ctx, a.id)
	require.NoError(t, err)
	require.Equal(t, []string{extra.pub.String()}, u.SigningKeys)

	// Removing the last key is refused.
	clock.Advance(time.Minute)
	removeLast := &protocol.Operation{
		Name: protocol.KindRemoveSigningKey, V: 6,
		ID: a.id, SigningKey: extra.pub.String(),
		Timestamp: clock.Millis(),
	}
	removeLast.Sig = extra.sign(t, removeLast)
	applied = submitAndApply(t, e, clock, removeLast)
	require.Equal(t, protocol.StateFailed, applied.State)
}

func TestApplyRemoveAllSigningKeysKeepsSigner(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	k2 := newIdentity(t)
	k3 := newIdentity(t)

	require.NoError(t, e.store.PutUser(ctx, &model.User{
		ID:          a.id,
		SigningKeys: []string{a.pub.String(), k2.pub.String(), k3.pub.String()},
		CreatedAt:   clock.Millis(),
	}))

	op := &protocol.Operation{
		Name: protocol.KindRemoveAllSigningKeys, V: 6,
		ID:        a.id,
		Timestamp: clock.Millis(),
	}
	op.Sig = k2.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateApplied, applied.State)

	u, err := e.store.User(ctx, a.id)
	require.NoError(t, err)
	require.Equal(t, []string{k2.pub.String()}, u.SigningKeys)

	history, err := e.store.SigningKeyHistory(ctx, a.id)
	require.NoError(t, err)
	require.Contains(t, history, a.pub.String())
	require.Contains(t, history, k3.pub.String())
}

func TestApplySponsor(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	a := newIdentity(t)
	appKey := newIdentity(t)
	putUser(t, e, a)

	require.NoError(t, e.store.PutApp(ctx, &model.App{
		ID: "app1", Key: appKey.pub.String(), TotalSponsorships: 1,
	}))

	op := &protocol.Operation{
		Name: protocol.KindSponsor, V: 6,
		ID: a.id, App: "app1",
		Timestamp: clock.Millis(),
	}
	op.Sig = appKey.sign(t, op)
	applied := submitAndApply(t, e, clock, op)
	require.Equal(t, protocol.StateApplied, applied.State)

	has, err := e.store.HasSponsorship(ctx, a.id, "app1")
	require.NoError(t, err)
	require.True(t, has)

	// Sponsoring the same user twice is refused.
	clock.Advance(time.Minute)
	op2 := &protocol.Operation{
		Name: protocol.KindSponsor, V: 6,
		ID: a.id, App: "app1",
		Timestamp: clock.Millis(),
	}
	op2.Sig = appKey.sign(t, op2)
	applied = submitAndApply(t, e, clock, op2)
	require.Equal(t, protocol.StateFailed, applied.State)
	require.Contains(t, applied.Result, "already sponsored")

	// The quota is exhausted for everyone else.
	b := newIdentity(t)
	putUser(t, e, b)
	clock.Advance(time.Minute)
	op3 := &protocol.Operation{
		Name: protocol.KindSponsor, V: 6,
		ID: b.id, App: "app1",
		Timestamp: clock.Millis(),
	}
	op3.Sig = appKey.sign(t, op3)
	applied = submitAndApply(t, e, clock, op3)
	require.Equal(t, protocol.StateFailed, applied.State)
	require.Contains(t, applied.Result, "no sponsorships left")
}
