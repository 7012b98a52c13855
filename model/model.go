// Package model defines the entities of the social trust graph: users,
// connections, groups, invites, apps and sponsorships.
//
// All timestamps are unix milliseconds. The graph itself lives behind the
// store.Store interface; these types carry no storage concerns.
package model

// Level is the trust label on a directed user-to-user connection.
type Level string

const (
	JustMet      Level = "just met"
	AlreadyKnown Level = "already known"
	Recovery     Level = "recovery"
	Reported     Level = "reported"
)

// Valid reports whether l is one of the defined connection levels.
func (l Level) Valid() bool {
	switch l {
	case JustMet, AlreadyKnown, Recovery, Reported:
		return true
	}
	return false
}

// EligibleLevels are the connection levels that count toward group
// eligibility checks.
var EligibleLevels = []Level{AlreadyKnown, Recovery}

// GroupType distinguishes general groups from family groups, which require
// full mutual connectivity among members.
type GroupType string

const (
	General GroupType = "general"
	Family  GroupType = "family"
)

// Valid reports whether t is one of the defined group types.
func (t GroupType) Valid() bool {
	return t == General || t == Family
}

// User is a network identity. The id is the url-safe base64 encoding of the
// user's first ed25519 public key; SigningKeys holds the currently active
// keys (standard base64), never empty while the user is active.
type User struct {
	ID            string   `json:"id"`
	SigningKeys   []string `json:"signingKeys"`
	CreatedAt     int64    `json:"createdAt"`
	Parent        string   `json:"parent,omitempty"`
	Verifications []string `json:"verifications,omitempty"`
}

// HasVerification reports whether the user holds the named verification.
func (u *User) HasVerification(name string) bool {
	for _, v := range u.Verifications {
		if v == name {
			return true
		}
	}
	return false
}

// HasSigningKey reports whether key is among the user's active keys.
func (u *User) HasSigningKey(key string) bool {
	for _, k := range u.SigningKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Connection is a directed trust edge between two users.
type Connection struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Level         Level  `json:"level"`
	ReportReason  string `json:"reportReason,omitempty"`
	ReplacedWith  string `json:"replacedWith,omitempty"`
	RequestProof  string `json:"requestProof,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	InitTimestamp int64  `json:"initTimestamp"`
}

// ConnectionEvent is one entry of the append-only connection history, the
// sole input to recovery eligibility computation.
type ConnectionEvent struct {
	Level     Level `json:"level"`
	Timestamp int64 `json:"timestamp"`
}

// Group is a set of users. Family groups carry a head and, between
// membership changes, a list of vouchers.
type Group struct {
	ID        string    `json:"id"`
	Type      GroupType `json:"type"`
	URL       string    `json:"url,omitempty"`
	Admins    []string  `json:"admins"`
	Head      string    `json:"head,omitempty"`
	Vouchers  []string  `json:"vouchers,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// IsAdmin reports whether id administers the group.
func (g *Group) IsAdmin(id string) bool {
	for _, a := range g.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// HasVoucher reports whether id already vouched for the group.
func (g *Group) HasVoucher(id string) bool {
	for _, v := range g.Vouchers {
		if v == id {
			return true
		}
	}
	return false
}

// Invite is a single-use, expiring invitation of a user into a group. Data
// carries the group's AES key encrypted for the invitee; the node never
// reads it.
type Invite struct {
	ID        string `json:"id"`
	Invitee   string `json:"invitee"`
	Inviter   string `json:"inviter"`
	GroupID   string `json:"group"`
	Data      string `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// App is a third party that sponsors users and consumes blind-signed
// verifications.
type App struct {
	ID string `json:"id"`
	// Key is the app's base64 ed25519 signing key, used to authorize
	// Sponsor operations.
	Key               string `json:"key"`
	TotalSponsorships int    `json:"totalSponsorships"`
	// Verification names the verification expression the app accepts.
	Verification string `json:"verification"`
	// TimestampPrecision is the rounding applied to verification request
	// timestamps, in milliseconds. Zero means the default precision.
	TimestampPrecision int64 `json:"timestampPrecision,omitempty"`
}

// Sponsorship records that an app spent one sponsorship slot on a user.
type Sponsorship struct {
	UserID    string `json:"user"`
	AppID     string `json:"app"`
	Timestamp int64  `json:"timestamp"`
}
