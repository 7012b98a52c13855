package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("canonical operation bytes")
	sig, err := priv.Sign(msg)
	require.NoError(t, err)
	require.True(t, sig.Verify(pub, msg))
}

func TestVerifyRejectsTampering(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("canonical operation bytes")
	sig, err := priv.Sign(msg)
	require.NoError(t, err)

	// Flip one byte of the message.
	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0x01
	require.False(t, sig.Verify(pub, tampered))

	// Flip one byte of the signature.
	badSig := append(Signature(nil), sig...)
	badSig[3] ^= 0x01
	require.False(t, badSig.Verify(pub, msg))

	// Wrong key.
	otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	require.False(t, sig.Verify(otherPub, msg))
}

func TestUserIDRoundTrip(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)

	id := pub.UserID()
	key, err := SigningKeyForID(id)
	require.NoError(t, err)
	require.Equal(t, pub.String(), key)

	parsed, err := NewPublicKeyFromString(key)
	require.NoError(t, err)
	require.True(t, pub.Equal(parsed))
}

func TestSignatureStringRoundTrip(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	sig, err := priv.Sign([]byte("x"))
	require.NoError(t, err)

	parsed, err := NewSignatureFromString(sig.String())
	require.NoError(t, err)
	require.Equal(t, sig, parsed)

	_, err = NewSignatureFromString("not base64!!")
	require.Error(t, err)
}
