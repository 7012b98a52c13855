// Package client is a Go client for the node's HTTP API. It signs and
// submits operations, polls their state and runs the client side of the
// partially blind verification flow, including blinding and unblinding.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/BrightID/BrightID-Node-sub000/crypto"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/services"
)

// Client talks to one node.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the node at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError converts a non-2xx response into a protocol error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var envelope services.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Code != 0 {
		return protocol.NewError(envelope.Code, "%s", envelope.Error)
	}
	return fmt.Errorf("node returned status %d: %s", resp.StatusCode, body)
}

func (c *Client) postJSON(ctx context.Context, path string, req, out any) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SignOperation signs op with the private key, filling the signature slot
// the operation kind requires. Multi-signer kinds need SignOperationAs for
// each signer.
func SignOperation(op *protocol.Operation, key crypto.PrivateKey) error {
	msg, err := protocol.Message(op)
	if err != nil {
		return err
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return err
	}
	switch op.Name {
	case protocol.KindConnect, protocol.KindAddGroup:
		op.Sig1 = sig.String()
	default:
		op.Sig = sig.String()
	}
	return nil
}

// SubmitOperation submits a signed operation and returns its hash.
func (c *Client) SubmitOperation(ctx context.Context, op *protocol.Operation) (string, error) {
	var resp services.SubmitOperationResponse
	if err := c.postJSON(ctx, "/operations", op, &resp); err != nil {
		return "", err
	}
	return resp.Hash, nil
}

// OperationState polls an operation's lifecycle state by hash.
func (c *Client) OperationState(ctx context.Context, hash string) (*services.OperationStateResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/operations/"+hash, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}
	var state services.OperationStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Verification is an unblinded signature a user presents to an app.
type Verification struct {
	App              string
	RoundedTimestamp int64
	Msg              string
	Sig              *crypto.BlindSignature
}

// FetchVerification runs the full client side of the blind signature flow:
// fetch session parameters, blind msg, prove identity ownership with the
// signing key, and unblind the issuer's response. The node never sees msg.
func (c *Client) FetchVerification(ctx context.Context, app, userID string, key crypto.PrivateKey, msg []byte) (*Verification, error) {
	var blinded services.BlindedResponse
	if err := c.postJSON(ctx, "/verifications/blinded", services.BlindedRequest{App: app}, &blinded); err != nil {
		return nil, err
	}

	group := crypto.NewGroup()
	y, ok := new(big.Int).SetString(blinded.IssuerPublicKey, 10)
	if !ok {
		return nil, fmt.Errorf("invalid issuer public key")
	}
	a, err := group.ParseElement(blinded.Public.A)
	if err != nil {
		return nil, fmt.Errorf("invalid session element a: %w", err)
	}
	b, err := group.ParseElement(blinded.Public.B)
	if err != nil {
		return nil, fmt.Errorf("invalid session element b: %w", err)
	}

	info, err := json.Marshal(struct {
		App              string `json:"app"`
		RoundedTimestamp int64  `json:"roundedTimestamp"`
		Verification     string `json:"verification"`
	}{app, blinded.RoundedTimestamp, blinded.Verification})
	if err != nil {
		return nil, err
	}

	session, e, err := crypto.NewClientChallenge(group, y, &crypto.SessionPublic{A: a, B: b}, info, msg)
	if err != nil {
		return nil, err
	}

	challenge, err := json.Marshal(struct {
		A string `json:"a"`
		B string `json:"b"`
		E string `json:"e"`
	}{blinded.Public.A, blinded.Public.B, e.String()})
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(challenge)
	if err != nil {
		return nil, err
	}

	var sigResp services.SigResponse
	err = c.postJSON(ctx, "/verifications/sig", services.SigRequest{
		ID: userID, App: app, Public: blinded.Public,
		E: e.String(), Sig: sig.String(),
	}, &sigResp)
	if err != nil {
		return nil, err
	}

	parse := func(s string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid scalar in issuer response")
		}
		return n, nil
	}
	r, err := parse(sigResp.R)
	if err != nil {
		return nil, err
	}
	cc, err := parse(sigResp.C)
	if err != nil {
		return nil, err
	}
	s, err := parse(sigResp.S)
	if err != nil {
		return nil, err
	}
	d, err := parse(sigResp.D)
	if err != nil {
		return nil, err
	}

	return &Verification{
		App:              app,
		RoundedTimestamp: blinded.RoundedTimestamp,
		Msg:              string(msg),
		Sig:              session.Unblind(&crypto.IssuerResponse{R: r, C: cc, S: s, D: d}),
	}, nil
}

// VerifySignature asks a node to check an unblinded verification.
func (c *Client) VerifySignature(ctx context.Context, v *Verification) (bool, error) {
	var resp services.UnblindedResponse
	err := c.postJSON(ctx, "/verifications/unblinded", services.UnblindedRequest{
		App:              v.App,
		RoundedTimestamp: v.RoundedTimestamp,
		Msg:              v.Msg,
		Rho:              v.Sig.Rho.String(),
		Omega:            v.Sig.Omega.String(),
		Sigma:            v.Sig.Sigma.String(),
		Delta:            v.Sig.Delta.String(),
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Valid, nil
}
