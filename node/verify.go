package node

import (
	"context"
	"errors"

	"github.com/BrightID/BrightID-Node-sub000/crypto"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// verifySignatures checks every signature the operation kind requires.
// It always runs before persistence. On success op.Sig's matched key for
// single-signer operations is recorded via matchedSigningKey (Remove All
// Signing Keys keeps that key).
func (e *Engine) verifySignatures(ctx context.Context, op *protocol.Operation) error {
	msg, err := protocol.Message(op)
	if err != nil {
		return protocol.WrapError(protocol.ErrorMalformedOperation, err, "encoding message")
	}

	if op.Name == protocol.KindSponsor {
		return e.verifyAppSig(ctx, op, msg)
	}

	if op.Name == protocol.KindSetSigningKey {
		return e.verifyRecoverySigs(ctx, op, msg)
	}

	var legacy []byte
	if l, ok := protocol.LegacyMessage(op); ok {
		legacy = l
	}

	for _, signer := range op.Signers() {
		if _, err := e.verifyUserSig(ctx, signer.ID, signer.Sig, msg, legacy); err != nil {
			return err
		}
	}
	return nil
}

// verifyUserSig verifies one signature against the signer's current keys,
// then each historical key most recent first, then (for legacy kinds) the
// alternate legacy message under all of those keys. It returns the key
// that matched.
func (e *Engine) verifyUserSig(ctx context.Context, signerID, sigStr string, msg, legacy []byte) (string, error) {
	sig, err := crypto.NewSignatureFromString(sigStr)
	if err != nil {
		return "", protocol.NewError(protocol.ErrorInvalidSignatureFormat,
			"signature of %s is not valid base64", signerID)
	}

	keys, err := e.signingKeysFor(ctx, signerID)
	if err != nil {
		return "", err
	}

	for _, message := range [][]byte{msg, legacy} {
		if message == nil {
			continue
		}
		for _, key := range keys {
			pk, err := crypto.NewPublicKeyFromString(key)
			if err != nil {
				continue
			}
			if sig.Verify(pk, message) {
				return key, nil
			}
		}
	}
	return "", protocol.NewError(protocol.ErrorInvalidSignature,
		"no signing key of %s verifies the signature", signerID)
}

// signingKeysFor returns the keys a signature from the given identity may
// verify under: the user's current keys first, then rotated-out historical
// keys most recent first. An identity without a user record yet signs with
// the key its id encodes.
func (e *Engine) signingKeysFor(ctx context.Context, id string) ([]string, error) {
	u, err := e.store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		key, err := crypto.SigningKeyForID(id)
		if err != nil {
			return nil, protocol.NewError(protocol.ErrorInvalidSignature,
				"unknown signer %s", id)
		}
		return []string{key}, nil
	}
	if err != nil {
		return nil, protocol.Internal(err)
	}

	keys := append([]string(nil), u.SigningKeys...)
	history, err := e.store.SigningKeyHistory(ctx, id)
	if err != nil {
		return nil, protocol.Internal(err)
	}
	for _, k := range history {
		if !u.HasSigningKey(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// VerifySignature checks a detached signature from the given identity over
// msg, honoring the signer's key history. Used by the verification service
// to authenticate blind signature requests.
func (e *Engine) VerifySignature(ctx context.Context, signerID, sig string, msg []byte) error {
	_, err := e.verifyUserSig(ctx, signerID, sig, msg, nil)
	return err
}

// matchedSigningKey re-runs verification for a single-signer operation and
// reports which active key of the signer produced the signature.
func (e *Engine) matchedSigningKey(ctx context.Context, op *protocol.Operation) (string, error) {
	msg, err := protocol.Message(op)
	if err != nil {
		return "", protocol.WrapError(protocol.ErrorMalformedOperation, err, "encoding message")
	}
	signers := op.Signers()
	if len(signers) != 1 {
		return "", protocol.NewError(protocol.ErrorMalformedOperation,
			"%s is not a single-signer operation", op.Name)
	}
	return e.verifyUserSig(ctx, signers[0].ID, signers[0].Sig, msg, nil)
}

// verifyAppSig checks a Sponsor operation against the app's signing key.
func (e *Engine) verifyAppSig(ctx context.Context, op *protocol.Operation, msg []byte) error {
	app, err := e.store.App(ctx, op.App)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NewError(protocol.ErrorAppNotFound, "app %s not found", op.App)
	}
	if err != nil {
		return protocol.Internal(err)
	}

	sig, err := crypto.NewSignatureFromString(op.Sig)
	if err != nil {
		return protocol.NewError(protocol.ErrorInvalidSignatureFormat,
			"sponsor signature is not valid base64")
	}
	pk, err := crypto.NewPublicKeyFromString(app.Key)
	if err != nil {
		return protocol.Internal(err)
	}
	if !sig.Verify(pk, msg) {
		return protocol.NewError(protocol.ErrorInvalidSignature,
			"signature does not match key of app %s", op.App)
	}
	return nil
}

// verifyRecoverySigs authorizes a Set Signing Key operation: two distinct
// signers, each a currently-active recovery connection of the target, each
// signature valid under the signer's keys (with legacy format fallback).
func (e *Engine) verifyRecoverySigs(ctx context.Context, op *protocol.Operation, msg []byte) error {
	if op.ID1 == op.ID2 {
		return protocol.NewError(protocol.ErrorDuplicateSigners,
			"key rotation requires two distinct recovery connections")
	}

	legacy, _ := protocol.LegacyMessage(op)

	for _, signer := range op.Signers() {
		active, err := e.isActiveRecovery(ctx, op.ID, signer.ID)
		if err != nil {
			return protocol.Internal(err)
		}
		if !active {
			return protocol.NewError(protocol.ErrorIneligibleRecoveryConnection,
				"%s is not an active recovery connection of %s", signer.ID, op.ID)
		}
		if _, err := e.verifyUserSig(ctx, signer.ID, signer.Sig, msg, legacy); err != nil {
			return err
		}
	}
	return nil
}

