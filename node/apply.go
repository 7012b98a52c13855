package node

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/BrightID/BrightID-Node-sub000/crypto"
	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// dispatch routes an admitted operation to its apply routine. The switch
// is exhaustive over the kind set; Validate already rejected unknown
// kinds at admission.
func (e *Engine) dispatch(ctx context.Context, op *protocol.Operation) error {
	switch op.Name {
	case protocol.KindConnect:
		return e.applyConnect(ctx, op)
	case protocol.KindAddGroup:
		return e.applyAddGroup(ctx, op)
	case protocol.KindRemoveGroup:
		return e.applyRemoveGroup(ctx, op)
	case protocol.KindAddMembership:
		return e.applyAddMembership(ctx, op)
	case protocol.KindRemoveMembership:
		return e.applyRemoveMembership(ctx, op)
	case protocol.KindInvite:
		return e.applyInvite(ctx, op)
	case protocol.KindDismiss:
		return e.applyDismiss(ctx, op)
	case protocol.KindAddAdmin:
		return e.applyAddAdmin(ctx, op)
	case protocol.KindVouchFamily:
		return e.applyVouchFamily(ctx, op)
	case protocol.KindSetSigningKey:
		return e.applySetSigningKey(ctx, op)
	case protocol.KindAddSigningKey:
		return e.applyAddSigningKey(ctx, op)
	case protocol.KindRemoveSigningKey:
		return e.applyRemoveSigningKey(ctx, op)
	case protocol.KindRemoveAllSigningKeys:
		return e.applyRemoveAllSigningKeys(ctx, op)
	case protocol.KindSponsor:
		return e.applySponsor(ctx, op)
	default:
		return protocol.NewError(protocol.ErrorUnknownKind, "unknown operation %s", op.Name)
	}
}

// ensureUser returns the user record for id, creating it with the signing
// key the id encodes when absent. creator is the counterpart of the
// connection triggering the creation; a verified creator becomes the new
// user's parent for rate-limit bucketing.
func (e *Engine) ensureUser(ctx context.Context, id, creator string, ts int64) (*model.User, error) {
	u, err := e.store.User(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, protocol.Internal(err)
	}

	key, err := crypto.SigningKeyForID(id)
	if err != nil {
		return nil, protocol.NewError(protocol.ErrorUserNotFound,
			"%s does not encode a signing key", id)
	}
	u = &model.User{
		ID:          id,
		SigningKeys: []string{key},
		CreatedAt:   ts,
	}
	if creator != "" {
		if c, err := e.store.User(ctx, creator); err == nil && c.HasVerification(verifiedCredential) {
			u.Parent = creator
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, protocol.Internal(err)
		}
	}
	if err := e.store.PutUser(ctx, u); err != nil {
		return nil, protocol.Internal(err)
	}
	return u, nil
}

// applyConnect upserts the directed edge id1 -> id2 and appends the level
// change to the edge's history. Both endpoints are created on first
// contact.
func (e *Engine) applyConnect(ctx context.Context, op *protocol.Operation) error {
	if op.ReplacedWith != "" {
		exists, err := e.store.UserExists(ctx, op.ReplacedWith)
		if err != nil {
			return protocol.Internal(err)
		}
		if !exists {
			return protocol.NewError(protocol.ErrorReplacedWithNotFound,
				"replacement account %s not found", op.ReplacedWith)
		}
	}

	if _, err := e.ensureUser(ctx, op.ID1, op.ID2, op.Timestamp); err != nil {
		return err
	}
	if _, err := e.ensureUser(ctx, op.ID2, op.ID1, op.Timestamp); err != nil {
		return err
	}

	conn := &model.Connection{
		From:          op.ID1,
		To:            op.ID2,
		Level:         op.Level,
		ReportReason:  op.ReportReason,
		ReplacedWith:  op.ReplacedWith,
		RequestProof:  op.RequestProof,
		Timestamp:     op.Timestamp,
		InitTimestamp: op.Timestamp,
	}
	prev, err := e.store.Connection(ctx, op.ID1, op.ID2)
	if err == nil {
		conn.InitTimestamp = prev.InitTimestamp
	} else if !errors.Is(err, store.ErrNotFound) {
		return protocol.Internal(err)
	}

	if err := e.store.PutConnection(ctx, conn); err != nil {
		return protocol.Internal(err)
	}
	ev := model.ConnectionEvent{Level: op.Level, Timestamp: op.Timestamp}
	if err := e.store.AppendConnectionHistory(ctx, op.ID1, op.ID2, ev); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyAddGroup(ctx context.Context, op *protocol.Operation) error {
	if _, err := e.loadUser(ctx, op.ID1); err != nil {
		return err
	}
	if _, err := e.store.Group(ctx, op.Group); err == nil {
		return protocol.NewError(protocol.ErrorDuplicateGroup, "group %s already exists", op.Group)
	} else if !errors.Is(err, store.ErrNotFound) {
		return protocol.Internal(err)
	}

	g := &model.Group{
		ID:        op.Group,
		Type:      op.Type,
		URL:       op.URL,
		Admins:    []string{op.ID1},
		Timestamp: op.Timestamp,
	}
	if op.Type == model.Family {
		if _, err := e.store.FamilyHeadedBy(ctx, op.ID1); err == nil {
			return protocol.NewError(protocol.ErrorAlreadyFamilyHead,
				"%s already heads a family group", op.ID1)
		} else if !errors.Is(err, store.ErrNotFound) {
			return protocol.Internal(err)
		}
		g.Head = op.ID1
	}

	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	if err := e.store.AddMembership(ctx, g.ID, op.ID1, op.Timestamp); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyRemoveGroup(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	if !g.IsAdmin(op.ID) {
		return protocol.NewError(protocol.ErrorNotAdmin,
			"%s is not an admin of group %s", op.ID, g.ID)
	}
	if err := e.store.DeleteGroup(ctx, g.ID); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

// applyAddMembership consumes a pending invite and joins the user. The
// eligibility check runs against the membership as it stands at apply
// time, not at invite time.
func (e *Engine) applyAddMembership(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	isMember, err := e.store.IsMember(ctx, g.ID, op.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if isMember {
		return protocol.NewError(protocol.ErrorAlreadyMember,
			"%s is already a member of group %s", op.ID, g.ID)
	}

	inv, err := e.store.Invite(ctx, op.ID, g.ID)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NewError(protocol.ErrorNotInvited,
			"%s has no invite to group %s", op.ID, g.ID)
	}
	if err != nil {
		return protocol.Internal(err)
	}
	if op.Timestamp-inv.Timestamp > e.cfg.InviteTTL.Milliseconds() {
		return protocol.NewError(protocol.ErrorInviteExpired,
			"invite of %s to group %s has expired", op.ID, g.ID)
	}

	if err := e.checkJoinEligibility(ctx, op.ID, g, false); err != nil {
		return err
	}

	if err := e.store.AddMembership(ctx, g.ID, op.ID, op.Timestamp); err != nil {
		return protocol.Internal(err)
	}
	if err := e.store.DeleteInvite(ctx, inv.ID); err != nil {
		return protocol.Internal(err)
	}
	return e.clearVouchers(ctx, g)
}

func (e *Engine) applyRemoveMembership(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	isMember, err := e.store.IsMember(ctx, g.ID, op.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if !isMember {
		return protocol.NewError(protocol.ErrorNotMember,
			"%s is not a member of group %s", op.ID, g.ID)
	}

	members, err := e.store.Members(ctx, g.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if len(members) == 1 {
		// Last member leaving dissolves the group.
		return e.dissolveGroup(ctx, g.ID)
	}
	if g.IsAdmin(op.ID) && len(g.Admins) == 1 {
		return protocol.NewError(protocol.ErrorLastAdmin,
			"last admin cannot leave group %s while it has other members", g.ID)
	}

	if err := e.store.RemoveMembership(ctx, g.ID, op.ID); err != nil {
		return protocol.Internal(err)
	}
	g.Admins = removeString(g.Admins, op.ID)
	if g.Type == model.Family {
		g.Vouchers = nil
	}
	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) dissolveGroup(ctx context.Context, groupID string) error {
	if err := e.store.DeleteGroup(ctx, groupID); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyInvite(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	if !g.IsAdmin(op.Inviter) {
		return protocol.NewError(protocol.ErrorNotAdmin,
			"%s is not an admin of group %s", op.Inviter, g.ID)
	}
	if _, err := e.loadUser(ctx, op.Invitee); err != nil {
		return err
	}
	isMember, err := e.store.IsMember(ctx, g.ID, op.Invitee)
	if err != nil {
		return protocol.Internal(err)
	}
	if isMember {
		return protocol.NewError(protocol.ErrorAlreadyMember,
			"%s is already a member of group %s", op.Invitee, g.ID)
	}
	if err := e.checkJoinEligibility(ctx, op.Invitee, g, true); err != nil {
		return err
	}

	inv := &model.Invite{
		ID:        uuid.NewString(),
		Invitee:   op.Invitee,
		Inviter:   op.Inviter,
		GroupID:   g.ID,
		Data:      op.Data,
		Timestamp: op.Timestamp,
	}
	if err := e.store.PutInvite(ctx, inv); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyDismiss(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	if !g.IsAdmin(op.Dismisser) {
		return protocol.NewError(protocol.ErrorNotAdmin,
			"%s is not an admin of group %s", op.Dismisser, g.ID)
	}
	isMember, err := e.store.IsMember(ctx, g.ID, op.Dismissee)
	if err != nil {
		return protocol.Internal(err)
	}
	if !isMember {
		return protocol.NewError(protocol.ErrorNotMember,
			"%s is not a member of group %s", op.Dismissee, g.ID)
	}

	members, err := e.store.Members(ctx, g.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if len(members) == 1 {
		return e.dissolveGroup(ctx, g.ID)
	}
	if g.IsAdmin(op.Dismissee) && len(g.Admins) == 1 {
		return protocol.NewError(protocol.ErrorLastAdmin,
			"cannot dismiss the last admin of group %s", g.ID)
	}

	if err := e.store.RemoveMembership(ctx, g.ID, op.Dismissee); err != nil {
		return protocol.Internal(err)
	}
	g.Admins = removeString(g.Admins, op.Dismissee)
	if g.Type == model.Family {
		g.Vouchers = nil
	}
	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyAddAdmin(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	if !g.IsAdmin(op.ID) {
		return protocol.NewError(protocol.ErrorNotAdmin,
			"%s is not an admin of group %s", op.ID, g.ID)
	}
	isMember, err := e.store.IsMember(ctx, g.ID, op.Admin)
	if err != nil {
		return protocol.Internal(err)
	}
	if !isMember {
		return protocol.NewError(protocol.ErrorNotMember,
			"%s is not a member of group %s", op.Admin, g.ID)
	}
	if g.IsAdmin(op.Admin) {
		return nil
	}
	g.Admins = append(g.Admins, op.Admin)
	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyVouchFamily(ctx context.Context, op *protocol.Operation) error {
	g, err := e.loadGroup(ctx, op.Group)
	if err != nil {
		return err
	}
	if _, err := e.loadUser(ctx, op.ID); err != nil {
		return err
	}
	if g.HasVoucher(op.ID) {
		return protocol.NewError(protocol.ErrorAlreadyVouched,
			"%s already vouched for family group %s", op.ID, g.ID)
	}
	if err := e.checkVouchEligibility(ctx, op.ID, g); err != nil {
		return err
	}
	g.Vouchers = append(g.Vouchers, op.ID)
	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

// applySetSigningKey rotates the target's key set to the single recovered
// key. The displaced keys stay on the history so signatures they produced
// before the rotation remain verifiable.
func (e *Engine) applySetSigningKey(ctx context.Context, op *protocol.Operation) error {
	u, err := e.loadUser(ctx, op.ID)
	if err != nil {
		return err
	}
	for _, k := range u.SigningKeys {
		if k == op.SigningKey {
			continue
		}
		if err := e.store.AppendSigningKeyHistory(ctx, u.ID, k, op.Timestamp); err != nil {
			return protocol.Internal(err)
		}
	}
	u.SigningKeys = []string{op.SigningKey}
	if err := e.store.PutUser(ctx, u); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyAddSigningKey(ctx context.Context, op *protocol.Operation) error {
	u, err := e.loadUser(ctx, op.ID)
	if err != nil {
		return err
	}
	if u.HasSigningKey(op.SigningKey) {
		return nil
	}
	u.SigningKeys = append(u.SigningKeys, op.SigningKey)
	if err := e.store.PutUser(ctx, u); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applyRemoveSigningKey(ctx context.Context, op *protocol.Operation) error {
	u, err := e.loadUser(ctx, op.ID)
	if err != nil {
		return err
	}
	if !u.HasSigningKey(op.SigningKey) {
		return nil
	}
	if len(u.SigningKeys) == 1 {
		return protocol.NewError(protocol.ErrorLastSigningKey,
			"%s cannot remove its last signing key", u.ID)
	}
	u.SigningKeys = removeString(u.SigningKeys, op.SigningKey)
	if err := e.store.AppendSigningKeyHistory(ctx, u.ID, op.SigningKey, op.Timestamp); err != nil {
		return protocol.Internal(err)
	}
	if err := e.store.PutUser(ctx, u); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

// applyRemoveAllSigningKeys drops every active key except the one that
// signed this operation, so the signer cannot lock themselves out.
func (e *Engine) applyRemoveAllSigningKeys(ctx context.Context, op *protocol.Operation) error {
	u, err := e.loadUser(ctx, op.ID)
	if err != nil {
		return err
	}
	kept, err := e.matchedSigningKey(ctx, op)
	if err != nil {
		return err
	}
	if !u.HasSigningKey(kept) {
		// Signed with a historical key; nothing active to keep.
		return protocol.NewError(protocol.ErrorLastSigningKey,
			"the key that signed this operation is no longer active for %s", u.ID)
	}
	for _, k := range u.SigningKeys {
		if k == kept {
			continue
		}
		if err := e.store.AppendSigningKeyHistory(ctx, u.ID, k, op.Timestamp); err != nil {
			return protocol.Internal(err)
		}
	}
	u.SigningKeys = []string{kept}
	if err := e.store.PutUser(ctx, u); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func (e *Engine) applySponsor(ctx context.Context, op *protocol.Operation) error {
	app, err := e.store.App(ctx, op.App)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NewError(protocol.ErrorAppNotFound, "app %s not found", op.App)
	}
	if err != nil {
		return protocol.Internal(err)
	}

	sponsored, err := e.store.HasSponsorship(ctx, op.ID, app.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if sponsored {
		return protocol.NewError(protocol.ErrorSponsoredBefore,
			"%s was already sponsored by app %s", op.ID, app.ID)
	}

	used, err := e.store.CountSponsorships(ctx, app.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if used >= app.TotalSponsorships {
		return protocol.NewError(protocol.ErrorSponsorshipQuota,
			"app %s has no sponsorships left", app.ID)
	}

	s := &model.Sponsorship{UserID: op.ID, AppID: app.ID, Timestamp: op.Timestamp}
	if err := e.store.AddSponsorship(ctx, s); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
