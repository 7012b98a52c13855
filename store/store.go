// Package store defines the storage collaborator boundary of the node:
// point lookups and inserts, edge lookups, append-only histories, the
// mutual-connection intersection query the eligibility engines need, and
// the atomic insert-if-absent on operation hashes that backs idempotency.
package store

import (
	"context"
	"errors"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
)

// ErrNotFound is returned by point lookups of absent records.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateOperation is returned by InsertOperation when the hash is
// already present. The insert must be atomic against concurrent
// submissions of the same hash; with shared storage this is a
// unique-constraint insert, not an in-process lock.
var ErrDuplicateOperation = errors.New("store: operation hash already present")

// Store is the graph storage collaborator.
type Store interface {
	// Users.
	User(ctx context.Context, id string) (*model.User, error)
	PutUser(ctx context.Context, u *model.User) error
	UserExists(ctx context.Context, id string) (bool, error)
	// SigningKeyHistory returns keys that were ever active for the user and
	// no longer are, most recent first.
	SigningKeyHistory(ctx context.Context, id string) ([]string, error)
	AppendSigningKeyHistory(ctx context.Context, id, key string, ts int64) error

	// Connections. History is append-only, ascending by timestamp; it is
	// the sole input to recovery eligibility.
	Connection(ctx context.Context, from, to string) (*model.Connection, error)
	PutConnection(ctx context.Context, c *model.Connection) error
	AppendConnectionHistory(ctx context.Context, from, to string, ev model.ConnectionEvent) error
	ConnectionHistory(ctx context.Context, from, to string) ([]model.ConnectionEvent, error)
	ConnectionsFrom(ctx context.Context, from string) ([]*model.Connection, error)
	// MutualConnections returns the subset of candidates connected with id
	// in both directions at one of the given levels. This is the
	// intersection primitive behind group eligibility.
	MutualConnections(ctx context.Context, id string, candidates []string, levels []model.Level) ([]string, error)

	// Groups and memberships.
	Group(ctx context.Context, id string) (*model.Group, error)
	PutGroup(ctx context.Context, g *model.Group) error
	// DeleteGroup removes the group together with its memberships and
	// pending invites.
	DeleteGroup(ctx context.Context, id string) error
	Members(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	AddMembership(ctx context.Context, groupID, userID string, ts int64) error
	RemoveMembership(ctx context.Context, groupID, userID string) error
	// FamilyHeadedBy returns the family group the user heads, or
	// ErrNotFound.
	FamilyHeadedBy(ctx context.Context, userID string) (*model.Group, error)

	// Invites.
	PutInvite(ctx context.Context, inv *model.Invite) error
	Invite(ctx context.Context, invitee, groupID string) (*model.Invite, error)
	DeleteInvite(ctx context.Context, id string) error
	GroupHasInvites(ctx context.Context, groupID string) (bool, error)

	// Apps and sponsorships.
	App(ctx context.Context, id string) (*model.App, error)
	PutApp(ctx context.Context, a *model.App) error
	HasSponsorship(ctx context.Context, userID, appID string) (bool, error)
	AddSponsorship(ctx context.Context, s *model.Sponsorship) error
	CountSponsorships(ctx context.Context, appID string) (int, error)

	// Operations. InsertOperation is the idempotency guard: the first
	// submission of a hash wins, later ones get ErrDuplicateOperation.
	InsertOperation(ctx context.Context, op *protocol.Operation) error
	Operation(ctx context.Context, hash string) (*protocol.Operation, error)
	// UpdateOperation settles the record with its final state, result and
	// the consensus-injected block time.
	UpdateOperation(ctx context.Context, hash string, state protocol.State, result string, blockTime int64) error
}
