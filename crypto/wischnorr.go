// WI-Schnorr partially blind signatures.
//
// The scheme issues app-specific verification signatures without letting
// the issuer link the signature it later sees to the session that produced
// it. The common information both sides agree on (app, rounded timestamp,
// verification expression) is folded into the group element z; the message
// being signed stays blinded on the client.
//
// Arithmetic is over the order-q subgroup of quadratic residues modulo the
// 2048-bit MODP safe prime of RFC 3526 group 14, with generator g = 4. All
// secret scalars are drawn uniformly from [0, q) with rejection sampling
// from a cryptographically secure source; group elements are serialized
// big-endian at fixed width before hashing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
)

// modp2048 is the prime of RFC 3526 group 14. It is a safe prime:
// q = (p-1)/2 is also prime.
const modp2048 = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1" +
	"29024E088A67CC74020BBEA63B139B22514A08798E3404DD" +
	"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245" +
	"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
	"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D" +
	"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F" +
	"83655D23DCA3AD961C62F356208552BB9ED529077096966D" +
	"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
	"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9" +
	"DE2BCBF6955817183995497CEA956AE515D2261898FA0510" +
	"15728E5A8AACAA68FFFFFFFFFFFFFFFF"

// Group carries the public parameters of the signature scheme.
type Group struct {
	P *big.Int // modulus
	Q *big.Int // subgroup order, (P-1)/2
	G *big.Int // generator of the order-Q subgroup
}

// NewGroup returns the fixed group all nodes share.
func NewGroup() *Group {
	p, _ := new(big.Int).SetString(modp2048, 16)
	q := new(big.Int).Rsh(new(big.Int).Sub(p, big.NewInt(1)), 1)
	return &Group{P: p, Q: q, G: big.NewInt(4)}
}

// randScalar draws a uniform scalar from [0, Q).
func (g *Group) randScalar() (*big.Int, error) {
	return rand.Int(rand.Reader, g.Q)
}

// Encode serializes a group element big-endian at the width of the modulus.
func (g *Group) Encode(x *big.Int) []byte {
	buf := make([]byte, (g.P.BitLen()+7)/8)
	x.FillBytes(buf)
	return buf
}

// hashToGroup maps the common information into the order-Q subgroup:
// SHA-256(info) raised to (P-1)/Q, which squares the digest into the
// quadratic residues.
func (g *Group) hashToGroup(info []byte) *big.Int {
	sum := sha256.Sum256(info)
	h := new(big.Int).SetBytes(sum[:])
	exp := new(big.Int).Div(new(big.Int).Sub(g.P, big.NewInt(1)), g.Q)
	return new(big.Int).Exp(h, exp, g.P)
}

// challengeScalar computes SHA-256(alpha || beta || z || msg) mod Q, the
// challenge both the blinding client and the verifier derive.
func (g *Group) challengeScalar(alpha, beta, z *big.Int, msg []byte) *big.Int {
	h := sha256.New()
	h.Write(g.Encode(alpha))
	h.Write(g.Encode(beta))
	h.Write(g.Encode(z))
	h.Write(msg)
	e := new(big.Int).SetBytes(h.Sum(nil))
	return e.Mod(e, g.Q)
}

// Issuer holds the server's WI-Schnorr keypair.
type Issuer struct {
	group *Group
	x     *big.Int // secret
	Y     *big.Int // public, g^x
}

// NewIssuer derives the issuer keypair from a password:
// x = SHA-256(password) mod q, y = g^x mod p.
func NewIssuer(group *Group, password string) *Issuer {
	sum := sha256.Sum256([]byte(password))
	x := new(big.Int).SetBytes(sum[:])
	x.Mod(x, group.Q)
	return &Issuer{
		group: group,
		x:     x,
		Y:     new(big.Int).Exp(group.G, x, group.P),
	}
}

// Group returns the issuer's group parameters.
func (i *Issuer) Group() *Group { return i.group }

// SessionPrivate holds the per-request server secrets. Each session is
// consumed at most once.
type SessionPrivate struct {
	U *big.Int
	S *big.Int
	D *big.Int
}

// SessionPublic holds the public values handed to the client, and keys the
// session cache.
type SessionPublic struct {
	A *big.Int
	B *big.Int
}

// NewSession draws fresh secrets (u, s, d) for the given common
// information and computes the public pair a = g^u, b = g^s * z^d.
func (i *Issuer) NewSession(info []byte) (*SessionPrivate, *SessionPublic, error) {
	g := i.group
	u, err := g.randScalar()
	if err != nil {
		return nil, nil, err
	}
	s, err := g.randScalar()
	if err != nil {
		return nil, nil, err
	}
	d, err := g.randScalar()
	if err != nil {
		return nil, nil, err
	}

	z := g.hashToGroup(info)
	a := new(big.Int).Exp(g.G, u, g.P)
	b := new(big.Int).Mul(new(big.Int).Exp(g.G, s, g.P), new(big.Int).Exp(z, d, g.P))
	b.Mod(b, g.P)

	return &SessionPrivate{U: u, S: s, D: d}, &SessionPublic{A: a, B: b}, nil
}

// IssuerResponse is the server's answer to a blinded challenge e:
// c = e - d mod q, r = u - c*x mod q, together with the s and d the client
// needs to unblind.
type IssuerResponse struct {
	R *big.Int
	C *big.Int
	S *big.Int
	D *big.Int
}

// Respond consumes the session secrets for a blinded challenge.
func (i *Issuer) Respond(priv *SessionPrivate, e *big.Int) *IssuerResponse {
	q := i.group.Q
	c := new(big.Int).Sub(e, priv.D)
	c.Mod(c, q)
	r := new(big.Int).Sub(priv.U, new(big.Int).Mul(c, i.x))
	r.Mod(r, q)
	return &IssuerResponse{R: r, C: c, S: priv.S, D: priv.D}
}

// ClientSession holds the blinding factors a client keeps between producing
// the challenge and unblinding the response.
type ClientSession struct {
	group *Group
	t1    *big.Int
	t2    *big.Int
	t3    *big.Int
	t4    *big.Int
}

// NewClientChallenge blinds a message under the issuer's public key y and
// the session's public pair, returning the challenge e to send to the
// issuer and the session state needed to unblind the response.
func NewClientChallenge(group *Group, y *big.Int, pub *SessionPublic, info, msg []byte) (*ClientSession, *big.Int, error) {
	cs := &ClientSession{group: group}
	var err error
	for _, t := range []**big.Int{&cs.t1, &cs.t2, &cs.t3, &cs.t4} {
		if *t, err = group.randScalar(); err != nil {
			return nil, nil, err
		}
	}

	p := group.P
	z := group.hashToGroup(info)

	// alpha = a * g^t1 * y^t2, beta = b * g^t3 * z^t4
	alpha := new(big.Int).Mul(pub.A, new(big.Int).Exp(group.G, cs.t1, p))
	alpha.Mod(alpha, p)
	alpha.Mul(alpha, new(big.Int).Exp(y, cs.t2, p))
	alpha.Mod(alpha, p)

	beta := new(big.Int).Mul(pub.B, new(big.Int).Exp(group.G, cs.t3, p))
	beta.Mod(beta, p)
	beta.Mul(beta, new(big.Int).Exp(z, cs.t4, p))
	beta.Mod(beta, p)

	eps := group.challengeScalar(alpha, beta, z, msg)
	e := new(big.Int).Sub(eps, cs.t2)
	e.Sub(e, cs.t4)
	e.Mod(e, group.Q)
	return cs, e, nil
}

// BlindSignature is the unblinded signature a client presents to apps.
type BlindSignature struct {
	Rho   *big.Int
	Omega *big.Int
	Sigma *big.Int
	Delta *big.Int
}

// Unblind folds the issuer's response into the final signature.
func (cs *ClientSession) Unblind(resp *IssuerResponse) *BlindSignature {
	q := cs.group.Q
	add := func(a, b *big.Int) *big.Int {
		s := new(big.Int).Add(a, b)
		return s.Mod(s, q)
	}
	return &BlindSignature{
		Rho:   add(resp.R, cs.t1),
		Omega: add(resp.C, cs.t2),
		Sigma: add(resp.S, cs.t3),
		Delta: add(resp.D, cs.t4),
	}
}

// VerifyBlindSignature checks a signature over msg for the given common
// information under the issuer public key y:
//
//	(omega + delta) mod q == H(g^rho * y^omega || g^sigma * z^delta || z || msg) mod q
func VerifyBlindSignature(group *Group, y *big.Int, info, msg []byte, sig *BlindSignature) bool {
	if sig == nil || sig.Rho == nil || sig.Omega == nil || sig.Sigma == nil || sig.Delta == nil {
		return false
	}
	p := group.P
	z := group.hashToGroup(info)

	left := new(big.Int).Mul(new(big.Int).Exp(group.G, sig.Rho, p), new(big.Int).Exp(y, sig.Omega, p))
	left.Mod(left, p)
	right := new(big.Int).Mul(new(big.Int).Exp(group.G, sig.Sigma, p), new(big.Int).Exp(z, sig.Delta, p))
	right.Mod(right, p)

	want := group.challengeScalar(left, right, z, msg)
	got := new(big.Int).Add(sig.Omega, sig.Delta)
	got.Mod(got, group.Q)
	return got.Cmp(want) == 0
}

// ErrInvalidScalar reports a scalar outside the group order, used by
// transport decoding.
var ErrInvalidScalar = errors.New("scalar out of range")

// ParseScalar parses a decimal scalar and checks it lies in [0, Q).
func (g *Group) ParseScalar(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.Cmp(g.Q) >= 0 {
		return nil, ErrInvalidScalar
	}
	return n, nil
}

// ParseElement parses a decimal group element and checks it lies in (0, P).
func (g *Group) ParseElement(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 || n.Cmp(g.P) >= 0 {
		return nil, ErrInvalidScalar
	}
	return n, nil
}
