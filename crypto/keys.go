// Package crypto provides the node's cryptographic primitives: typed
// wrappers around ed25519 keys and signatures, identity derivation, and the
// WI-Schnorr partially blind signature scheme used for app verifications.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// PublicKey is an ed25519 public key. Public keys double as user
// identities: a user's id is the url-safe base64 encoding of their first
// public key.
type PublicKey []byte

// NewPublicKeyFromString decodes a standard-base64 public key, the encoding
// signing keys are stored and transmitted in.
func NewPublicKeyFromString(data string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key size")
	}
	return PublicKey(raw), nil
}

// Bytes returns the raw key bytes.
func (pk PublicKey) Bytes() []byte { return pk }

// String returns the standard-base64 encoding of the key.
func (pk PublicKey) String() string {
	return base64.StdEncoding.EncodeToString(pk)
}

// Equal compares two public keys in constant time.
func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk, other) == 1
}

// UserID derives the network identity for a public key: its unpadded
// url-safe base64 encoding.
func (pk PublicKey) UserID() string {
	return base64.RawURLEncoding.EncodeToString(pk)
}

// SigningKeyForID converts a user id back into the standard-base64 signing
// key it was derived from. This is the key a user signs with before any
// rotation.
func SigningKeyForID(id string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return "", err
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", errors.New("id does not encode a public key")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// PrivateKey is an ed25519 private key.
type PrivateKey []byte

// PublicKey returns the public half of the key.
func (sk PrivateKey) PublicKey() (PublicKey, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return PublicKey(sk[32:]), nil
}

// Sign signs data with the private key.
func (sk PrivateKey) Sign(data []byte) (Signature, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return Signature(ed25519.Sign(ed25519.PrivateKey(sk), data)), nil
}

// GenerateKeyPair generates a fresh ed25519 key pair.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PublicKey(pub), PrivateKey(priv), nil
}

// Signature is a detached ed25519 signature.
type Signature []byte

// NewSignatureFromString decodes a standard-base64 signature.
func NewSignatureFromString(data string) (Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.SignatureSize {
		return nil, errors.New("invalid signature size")
	}
	return Signature(raw), nil
}

// String returns the standard-base64 encoding of the signature.
func (s Signature) String() string {
	return base64.StdEncoding.EncodeToString(s)
}

// Verify reports whether the signature is valid for data under the key.
func (s Signature) Verify(pk PublicKey, data []byte) bool {
	if len(pk) != ed25519.PublicKeySize || len(s) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk), data, s)
}
