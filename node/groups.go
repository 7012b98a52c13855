package node

import (
	"context"
	"errors"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// checkJoinEligibility decides whether userID may join (or be invited to)
// the group. General groups need mutual already-known/recovery connections
// to at least half the members; for invites the candidate counts toward
// the denominator, so the post-join member count is used. Family groups
// need mutual connections to every current member.
func (e *Engine) checkJoinEligibility(ctx context.Context, userID string, g *model.Group, forInvite bool) error {
	members, err := e.store.Members(ctx, g.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if len(members) == 0 {
		return nil
	}

	mutual, err := e.store.MutualConnections(ctx, userID, members, model.EligibleLevels)
	if err != nil {
		return protocol.Internal(err)
	}

	if g.Type == model.Family {
		if len(mutual) < len(members) {
			return protocol.NewError(protocol.ErrorIneligibleFamilyGroupMember,
				"%s is not mutually connected to all members of family group %s", userID, g.ID)
		}
		return nil
	}

	total := len(members)
	if forInvite {
		total++
	}
	if len(mutual)*2 < total {
		return protocol.NewError(protocol.ErrorIneligibleGroupMember,
			"%s knows too few members of group %s", userID, g.ID)
	}
	return nil
}

// checkVouchEligibility decides whether userID may vouch for the family
// group: the group must have at least two members and no pending invites,
// and the voucher must be mutually connected to every member.
func (e *Engine) checkVouchEligibility(ctx context.Context, userID string, g *model.Group) error {
	if g.Type != model.Family {
		return protocol.NewError(protocol.ErrorIneligibleFamilyGroupMember,
			"group %s is not a family group", g.ID)
	}

	members, err := e.store.Members(ctx, g.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if len(members) < 2 {
		return protocol.NewError(protocol.ErrorIneligibleFamilyGroupMember,
			"family group %s has too few members to be vouched", g.ID)
	}

	pending, err := e.store.GroupHasInvites(ctx, g.ID)
	if err != nil {
		return protocol.Internal(err)
	}
	if pending {
		return protocol.NewError(protocol.ErrorIneligibleFamilyGroupMember,
			"family group %s has pending invites", g.ID)
	}

	mutual, err := e.store.MutualConnections(ctx, userID, members, model.EligibleLevels)
	if err != nil {
		return protocol.Internal(err)
	}
	if len(mutual) < len(members) {
		return protocol.NewError(protocol.ErrorIneligibleFamilyGroupMember,
			"%s is not mutually connected to all members of family group %s", userID, g.ID)
	}
	return nil
}

// clearVouchers drops the vouchers of a family group. Every membership
// change invalidates previous vouches.
func (e *Engine) clearVouchers(ctx context.Context, g *model.Group) error {
	if g.Type != model.Family || len(g.Vouchers) == 0 {
		return nil
	}
	g.Vouchers = nil
	if err := e.store.PutGroup(ctx, g); err != nil {
		return protocol.Internal(err)
	}
	return nil
}

// loadGroup fetches a group, translating absence into a domain error.
func (e *Engine) loadGroup(ctx context.Context, id string) (*model.Group, error) {
	g, err := e.store.Group(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewError(protocol.ErrorGroupNotFound, "group %s not found", id)
	}
	if err != nil {
		return nil, protocol.Internal(err)
	}
	return g, nil
}

// loadUser fetches a user, translating absence into a domain error.
func (e *Engine) loadUser(ctx context.Context, id string) (*model.User, error) {
	u, err := e.store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewError(protocol.ErrorUserNotFound, "user %s not found", id)
	}
	if err != nil {
		return nil, protocol.Internal(err)
	}
	return u, nil
}
