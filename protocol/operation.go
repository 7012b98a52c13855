// Package protocol defines the operation record: the signed, hashed client
// request that mutates network state once admitted. It owns the closed set
// of operation kinds, the canonical message codec operations are hashed and
// signed over, and the node's error taxonomy.
package protocol

import "github.com/BrightID/BrightID-Node-sub000/model"

// Kind is the closed set of operation kinds. Validation and apply are
// exhaustive over this set; an unrecognized name is rejected at admission.
type Kind string

const (
	KindConnect              Kind = "Connect"
	KindAddGroup             Kind = "Add Group"
	KindRemoveGroup          Kind = "Remove Group"
	KindAddMembership        Kind = "Add Membership"
	KindRemoveMembership     Kind = "Remove Membership"
	KindInvite               Kind = "Invite"
	KindDismiss              Kind = "Dismiss"
	KindAddAdmin             Kind = "Add Admin"
	KindVouchFamily          Kind = "Vouch Family"
	KindSetSigningKey        Kind = "Set Signing Key"
	KindAddSigningKey        Kind = "Add Signing Key"
	KindRemoveSigningKey     Kind = "Remove Signing Key"
	KindRemoveAllSigningKeys Kind = "Remove All Signing Keys"
	KindSponsor              Kind = "Sponsor"
)

// Valid reports whether k names a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindAddGroup, KindRemoveGroup, KindAddMembership,
		KindRemoveMembership, KindInvite, KindDismiss, KindAddAdmin,
		KindVouchFamily, KindSetSigningKey, KindAddSigningKey,
		KindRemoveSigningKey, KindRemoveAllSigningKeys, KindSponsor:
		return true
	}
	return false
}

// State tracks an admitted operation through its lifecycle. Every admitted
// hash ends in exactly one of applied or failed.
type State string

const (
	StateInit    State = "init"
	StateApplied State = "applied"
	StateFailed  State = "failed"
)

// Operation is the flat operation record. Kind-specific fields are
// omitempty; Validate enforces that exactly the required fields for the
// kind are present. State and Result are server-side and mutated only by
// the apply step.
type Operation struct {
	Name      Kind  `json:"name"`
	V         int   `json:"v"`
	Timestamp int64 `json:"timestamp"`

	ID           string          `json:"id,omitempty"`
	ID1          string          `json:"id1,omitempty"`
	ID2          string          `json:"id2,omitempty"`
	Level        model.Level     `json:"level,omitempty"`
	ReportReason string          `json:"reportReason,omitempty"`
	ReplacedWith string          `json:"replacedWith,omitempty"`
	RequestProof string          `json:"requestProof,omitempty"`
	Group        string          `json:"group,omitempty"`
	URL          string          `json:"url,omitempty"`
	Type         model.GroupType `json:"type,omitempty"`
	Inviter      string          `json:"inviter,omitempty"`
	Invitee      string          `json:"invitee,omitempty"`
	Dismisser    string          `json:"dismisser,omitempty"`
	Dismissee    string          `json:"dismissee,omitempty"`
	Admin        string          `json:"admin,omitempty"`
	SigningKey   string          `json:"signingKey,omitempty"`
	App          string          `json:"app,omitempty"`
	Data         string          `json:"data,omitempty"`

	Sig  string `json:"sig,omitempty"`
	Sig1 string `json:"sig1,omitempty"`
	Sig2 string `json:"sig2,omitempty"`

	Hash string `json:"hash,omitempty"`

	// BlockTime is injected by the consensus collaborator at apply time and
	// never signed.
	BlockTime int64 `json:"blockTime,omitempty"`

	State  State  `json:"state,omitempty"`
	Result string `json:"result,omitempty"`
}

// Signer pairs a signing identity with the signature it must have produced.
type Signer struct {
	ID  string
	Sig string
}

// Signers returns the identities whose signatures authorize the operation,
// in the order they are checked. The Sponsor kind is app-signed and handled
// separately by the verifier.
func (op *Operation) Signers() []Signer {
	switch op.Name {
	case KindConnect, KindAddGroup:
		return []Signer{{op.ID1, op.Sig1}}
	case KindSetSigningKey:
		return []Signer{{op.ID1, op.Sig1}, {op.ID2, op.Sig2}}
	case KindInvite:
		return []Signer{{op.Inviter, op.Sig}}
	case KindDismiss:
		return []Signer{{op.Dismisser, op.Sig}}
	case KindSponsor:
		return nil
	default:
		return []Signer{{op.ID, op.Sig}}
	}
}

// Senders returns the identities rate limiting buckets are derived from.
func (op *Operation) Senders() []string {
	switch op.Name {
	case KindConnect, KindAddGroup:
		return []string{op.ID1}
	case KindSetSigningKey:
		return []string{op.ID1, op.ID2}
	case KindInvite:
		return []string{op.Inviter}
	case KindDismiss:
		return []string{op.Dismisser}
	case KindSponsor:
		return []string{op.App}
	default:
		return []string{op.ID}
	}
}

// Validate checks that the operation names a known kind and carries exactly
// the fields that kind requires. It does not touch storage.
func (op *Operation) Validate() error {
	if !op.Name.Valid() {
		return NewError(ErrorUnknownKind, "unknown operation kind %q", op.Name)
	}
	if op.Timestamp <= 0 {
		return NewError(ErrorInvalidTimestamp, "missing timestamp")
	}
	missing := func(field string) error {
		return NewError(ErrorMalformedOperation, "%s operation requires %s", op.Name, field)
	}
	switch op.Name {
	case KindConnect:
		if op.ID1 == "" || op.ID2 == "" {
			return missing("id1 and id2")
		}
		if !op.Level.Valid() {
			return NewError(ErrorMalformedOperation, "invalid connection level %q", op.Level)
		}
		if op.ReplacedWith != "" && op.Level != model.Reported {
			return NewError(ErrorMalformedOperation, "replacedWith requires reported level")
		}
		if op.Sig1 == "" {
			return missing("sig1")
		}
	case KindAddGroup:
		if op.Group == "" || op.ID1 == "" {
			return missing("group and id1")
		}
		if !op.Type.Valid() {
			return NewError(ErrorMalformedOperation, "invalid group type %q", op.Type)
		}
		if op.Sig1 == "" {
			return missing("sig1")
		}
	case KindRemoveGroup, KindAddMembership, KindRemoveMembership, KindVouchFamily:
		if op.ID == "" || op.Group == "" {
			return missing("id and group")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindInvite:
		if op.Inviter == "" || op.Invitee == "" || op.Group == "" {
			return missing("inviter, invitee and group")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindDismiss:
		if op.Dismisser == "" || op.Dismissee == "" || op.Group == "" {
			return missing("dismisser, dismissee and group")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindAddAdmin:
		if op.ID == "" || op.Admin == "" || op.Group == "" {
			return missing("id, admin and group")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindSetSigningKey:
		if op.ID == "" || op.SigningKey == "" || op.ID1 == "" || op.ID2 == "" {
			return missing("id, signingKey, id1 and id2")
		}
		if op.Sig1 == "" || op.Sig2 == "" {
			return missing("sig1 and sig2")
		}
	case KindAddSigningKey, KindRemoveSigningKey:
		if op.ID == "" || op.SigningKey == "" {
			return missing("id and signingKey")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindRemoveAllSigningKeys:
		if op.ID == "" {
			return missing("id")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	case KindSponsor:
		if op.ID == "" || op.App == "" {
			return missing("id and app")
		}
		if op.Sig == "" {
			return missing("sig")
		}
	}
	return nil
}
