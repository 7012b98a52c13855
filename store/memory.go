package store

import (
	"context"
	"sync"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
)

type edgeKey struct{ from, to string }

// MemoryStore is an in-memory Store for tests and single-process
// deployments without a database.
type MemoryStore struct {
	mu sync.RWMutex

	users      map[string]*model.User
	keyHistory map[string][]string // oldest first; read reversed

	connections map[edgeKey]*model.Connection
	connHistory map[edgeKey][]model.ConnectionEvent

	groups      map[string]*model.Group
	memberships map[string]map[string]int64 // groupID -> userID -> join ts

	invites map[string]*model.Invite // by invite id

	apps         map[string]*model.App
	sponsorships map[edgeKey]*model.Sponsorship // user -> app

	operations map[string]*protocol.Operation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]*model.User),
		keyHistory:   make(map[string][]string),
		connections:  make(map[edgeKey]*model.Connection),
		connHistory:  make(map[edgeKey][]model.ConnectionEvent),
		groups:       make(map[string]*model.Group),
		memberships:  make(map[string]map[string]int64),
		invites:      make(map[string]*model.Invite),
		apps:         make(map[string]*model.App),
		sponsorships: make(map[edgeKey]*model.Sponsorship),
		operations:   make(map[string]*protocol.Operation),
	}
}

func copyUser(u *model.User) *model.User {
	c := *u
	c.SigningKeys = append([]string(nil), u.SigningKeys...)
	c.Verifications = append([]string(nil), u.Verifications...)
	return &c
}

func copyGroup(g *model.Group) *model.Group {
	c := *g
	c.Admins = append([]string(nil), g.Admins...)
	c.Vouchers = append([]string(nil), g.Vouchers...)
	return &c
}

func (m *MemoryStore) User(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MemoryStore) PutUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MemoryStore) UserExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *MemoryStore) SigningKeyHistory(_ context.Context, id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.keyHistory[id]
	out := make([]string, 0, len(hist))
	for i := len(hist) - 1; i >= 0; i-- {
		out = append(out, hist[i])
	}
	return out, nil
}

func (m *MemoryStore) AppendSigningKeyHistory(_ context.Context, id, key string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyHistory[id] = append(m.keyHistory[id], key)
	return nil
}

func (m *MemoryStore) Connection(_ context.Context, from, to string) (*model.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[edgeKey{from, to}]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *MemoryStore) PutConnection(_ context.Context, c *model.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.connections[edgeKey{c.From, c.To}] = &cc
	return nil
}

func (m *MemoryStore) AppendConnectionHistory(_ context.Context, from, to string, ev model.ConnectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := edgeKey{from, to}
	m.connHistory[k] = append(m.connHistory[k], ev)
	return nil
}

func (m *MemoryStore) ConnectionHistory(_ context.Context, from, to string) ([]model.ConnectionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ConnectionEvent(nil), m.connHistory[edgeKey{from, to}]...), nil
}

func (m *MemoryStore) ConnectionsFrom(_ context.Context, from string) ([]*model.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Connection
	for k, c := range m.connections {
		if k.from == from {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *MemoryStore) MutualConnections(_ context.Context, id string, candidates []string, levels []model.Level) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	levelOK := func(l model.Level) bool {
		for _, want := range levels {
			if l == want {
				return true
			}
		}
		return false
	}
	var out []string
	for _, cand := range candidates {
		fwd, ok := m.connections[edgeKey{id, cand}]
		if !ok || !levelOK(fwd.Level) {
			continue
		}
		back, ok := m.connections[edgeKey{cand, id}]
		if !ok || !levelOK(back.Level) {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func (m *MemoryStore) Group(_ context.Context, id string) (*model.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGroup(g), nil
}

func (m *MemoryStore) PutGroup(_ context.Context, g *model.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = copyGroup(g)
	return nil
}

func (m *MemoryStore) DeleteGroup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, id)
	delete(m.memberships, id)
	for invID, inv := range m.invites {
		if inv.GroupID == id {
			delete(m.invites, invID)
		}
	}
	return nil
}

func (m *MemoryStore) Members(_ context.Context, groupID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for userID := range m.memberships[groupID] {
		out = append(out, userID)
	}
	return out, nil
}

func (m *MemoryStore) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.memberships[groupID][userID]
	return ok, nil
}

func (m *MemoryStore) AddMembership(_ context.Context, groupID, userID string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memberships[groupID] == nil {
		m.memberships[groupID] = make(map[string]int64)
	}
	m.memberships[groupID][userID] = ts
	return nil
}

func (m *MemoryStore) RemoveMembership(_ context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memberships[groupID], userID)
	return nil
}

func (m *MemoryStore) FamilyHeadedBy(_ context.Context, userID string) (*model.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.Type == model.Family && g.Head == userID {
			return copyGroup(g), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PutInvite(_ context.Context, inv *model.Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *inv
	m.invites[inv.ID] = &c
	return nil
}

func (m *MemoryStore) Invite(_ context.Context, invitee, groupID string) (*model.Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *model.Invite
	for _, inv := range m.invites {
		if inv.Invitee != invitee || inv.GroupID != groupID {
			continue
		}
		if newest == nil || inv.Timestamp > newest.Timestamp {
			newest = inv
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	c := *newest
	return &c, nil
}

func (m *MemoryStore) DeleteInvite(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invites, id)
	return nil
}

func (m *MemoryStore) GroupHasInvites(_ context.Context, groupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invites {
		if inv.GroupID == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) App(_ context.Context, id string) (*model.App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) PutApp(_ context.Context, a *model.App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *a
	m.apps[a.ID] = &c
	return nil
}

func (m *MemoryStore) HasSponsorship(_ context.Context, userID, appID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sponsorships[edgeKey{userID, appID}]
	return ok, nil
}

func (m *MemoryStore) AddSponsorship(_ context.Context, s *model.Sponsorship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sponsorships[edgeKey{s.UserID, s.AppID}] = &c
	return nil
}

func (m *MemoryStore) CountSponsorships(_ context.Context, appID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.sponsorships {
		if k.to == appID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertOperation(_ context.Context, op *protocol.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.operations[op.Hash]; ok {
		return ErrDuplicateOperation
	}
	c := *op
	m.operations[op.Hash] = &c
	return nil
}

func (m *MemoryStore) Operation(_ context.Context, hash string) (*protocol.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[hash]
	if !ok {
		return nil, ErrNotFound
	}
	c := *op
	return &c, nil
}

func (m *MemoryStore) UpdateOperation(_ context.Context, hash string, state protocol.State, result string, blockTime int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[hash]
	if !ok {
		return ErrNotFound
	}
	op.State = state
	op.Result = result
	op.BlockTime = blockTime
	return nil
}
