// Package services contains the node's HTTP handler groups: operation
// submission and settlement, and the WI-Schnorr verification issuer. Both
// mount onto the httpserver shell through its RouteRegistrar interface.
package services

import (
	"github.com/BrightID/BrightID-Node-sub000/protocol"
)

// Group elements and scalars cross the wire as decimal strings; the crypto
// package bounds-checks them on parse.

// SubmitOperationResponse acknowledges an admitted operation.
type SubmitOperationResponse struct {
	Hash string `json:"hash"`
}

// ApplyOperationRequest carries the consensus-finalized block time for an
// admitted operation.
type ApplyOperationRequest struct {
	BlockTime int64 `json:"blockTime"`
}

// OperationStateResponse reports an operation's lifecycle state.
type OperationStateResponse struct {
	Hash   string         `json:"hash"`
	State  protocol.State `json:"state"`
	Result string         `json:"result,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string             `json:"error"`
	Code  protocol.ErrorCode `json:"code"`
}

// BlindedRequest asks for fresh WI-Schnorr session parameters for an app.
type BlindedRequest struct {
	App string `json:"app"`
}

// BlindedResponse returns the session's public pair together with the
// issuer public key and the rounded timestamp the client must fold into
// the common information.
type BlindedResponse struct {
	Public           PublicSession `json:"public"`
	IssuerPublicKey  string        `json:"issuerPublicKey"`
	Verification     string        `json:"verification"`
	RoundedTimestamp int64         `json:"roundedTimestamp"`
}

// PublicSession is the (a, b) pair identifying a signing session.
type PublicSession struct {
	A string `json:"a"`
	B string `json:"b"`
}

// SigRequest asks the issuer to answer a blinded challenge. Sig is the
// requester's ed25519 signature over the canonical JSON of {a, b, e}.
type SigRequest struct {
	ID     string        `json:"id"`
	App    string        `json:"app"`
	Public PublicSession `json:"public"`
	E      string        `json:"e"`
	Sig    string        `json:"sig"`
}

// SigResponse is the issuer's blinded answer.
type SigResponse struct {
	R string `json:"r"`
	C string `json:"c"`
	S string `json:"s"`
	D string `json:"d"`
}

// UnblindedRequest asks the node to check an unblinded signature.
type UnblindedRequest struct {
	App              string `json:"app"`
	RoundedTimestamp int64  `json:"roundedTimestamp"`
	Msg              string `json:"msg"`
	Rho              string `json:"rho"`
	Omega            string `json:"omega"`
	Sigma            string `json:"sigma"`
	Delta            string `json:"delta"`
}

// UnblindedResponse reports the verification verdict.
type UnblindedResponse struct {
	Valid bool `json:"valid"`
}
