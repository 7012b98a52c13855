// Canonical message codec. All operation hashing and signature checking
// passes through Message; there is no second serialization path.
package protocol

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// unsignedFields are stripped from every canonical message: signatures, the
// hash itself, the consensus-injected block time and the server-side
// lifecycle fields.
var unsignedFields = []string{"sig", "sig1", "sig2", "hash", "blockTime", "state", "result"}

// Message returns the deterministic byte encoding of the operation's signed
// content: its fields sorted by key name, excluding signatures, hash and
// anything injected after client submission. For Set Signing Key the
// rotating signers' identities (id1, id2) are excluded as well; they are
// redundant with the signatures.
//
// Identical logical content yields byte-identical output regardless of the
// key order the client serialized with, which is what makes the hash a
// stable idempotency key and signatures portable across nodes.
func Message(op *Operation) ([]byte, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encoding operation: %w", err)
	}

	// Round-trip through a map with json.Number so numeric literals survive
	// verbatim; json.Marshal emits map keys in sorted order.
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding operation: %w", err)
	}

	for _, f := range unsignedFields {
		delete(fields, f)
	}
	if op.Name == KindSetSigningKey {
		delete(fields, "id1")
		delete(fields, "id2")
	}

	msg, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding canonical message: %w", err)
	}
	return msg, nil
}

// HashOperation computes the operation's hash: the unpadded url-safe base64
// encoding of the SHA-256 digest of its canonical message.
func HashOperation(op *Operation) (string, error) {
	msg, err := Message(op)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(msg)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// LegacyMessage returns the historical alternate message format that old
// clients signed, for the two operation kinds that predate the canonical
// codec. The second return is false for every other kind.
func LegacyMessage(op *Operation) ([]byte, bool) {
	switch op.Name {
	case KindConnect:
		msg := "Add Connection" + op.ID1 + op.ID2 + strconv.FormatInt(op.Timestamp, 10)
		return []byte(msg), true
	case KindSetSigningKey:
		msg := "Set Signing Key" + op.ID + op.SigningKey + strconv.FormatInt(op.Timestamp, 10)
		return []byte(msg), true
	}
	return nil, false
}
