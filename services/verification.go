package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrightID/BrightID-Node-sub000/crypto"
	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/node"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// VerificationHandler issues WI-Schnorr partially blind signatures over
// verification messages. The issuer never sees the message it signs; the
// common information (app, rounded timestamp, verification expression) is
// visible to both sides and folded into the signature.
type VerificationHandler struct {
	engine *node.Engine
	issuer *crypto.Issuer
	cfg    *protocol.Config
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[[32]byte]*signingSession
}

// signingSession is a cached, single-use issuer session.
type signingSession struct {
	priv      *crypto.SessionPrivate
	app       string
	info      []byte
	expiresAt time.Time
}

// NewVerificationHandler creates the verification handler group. The
// issuer keypair derives from the node's WI-Schnorr password, so all nodes
// sharing the password issue interchangeable signatures.
func NewVerificationHandler(engine *node.Engine, password string, cfg *protocol.Config, log *slog.Logger, now func() time.Time) *VerificationHandler {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &VerificationHandler{
		engine:   engine,
		issuer:   crypto.NewIssuer(crypto.NewGroup(), password),
		cfg:      cfg,
		log:      log,
		now:      now,
		sessions: make(map[[32]byte]*signingSession),
	}
}

// RegisterRoutes mounts the verification endpoints.
func (h *VerificationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/verifications/blinded", h.handleBlinded)
	r.Post("/verifications/sig", h.handleSig)
	r.Post("/verifications/unblinded", h.handleUnblinded)
}

// commonInfo is the serialized common information both sides hash into z.
// Field order is fixed by the struct; both issuer and verifier rebuild it
// from the same inputs.
type commonInfo struct {
	App              string `json:"app"`
	RoundedTimestamp int64  `json:"roundedTimestamp"`
	Verification     string `json:"verification"`
}

func (h *VerificationHandler) buildInfo(app *model.App, rounded int64) ([]byte, error) {
	return json.Marshal(commonInfo{
		App:              app.ID,
		RoundedTimestamp: rounded,
		Verification:     app.Verification,
	})
}

// roundedTimestamp buckets the current time by the app's precision so all
// requests within a window share the same common information.
func (h *VerificationHandler) roundedTimestamp(app *model.App) int64 {
	precision := app.TimestampPrecision
	if precision <= 0 {
		precision = h.cfg.TimestampPrecision.Milliseconds()
	}
	nowMs := h.now().UnixMilli()
	return nowMs - nowMs%precision
}

func (h *VerificationHandler) loadApp(ctx context.Context, id string) (*model.App, error) {
	app, err := h.engine.Store().App(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.NewError(protocol.ErrorAppNotFound, "app %s not found", id)
	}
	if err != nil {
		return nil, protocol.Internal(err)
	}
	return app, nil
}

func sessionKey(pub *crypto.SessionPublic) [32]byte {
	g := crypto.NewGroup()
	hash := sha256.New()
	hash.Write(g.Encode(pub.A))
	hash.Write(g.Encode(pub.B))
	var key [32]byte
	copy(key[:], hash.Sum(nil))
	return key
}

// storeSession caches a session and sweeps expired ones while holding the
// lock.
func (h *VerificationHandler) storeSession(pub *crypto.SessionPublic, s *signingSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for k, v := range h.sessions {
		if now.After(v.expiresAt) {
			delete(h.sessions, k)
		}
	}
	h.sessions[sessionKey(pub)] = s
}

// consumeSession removes and returns the session for the public pair if
// it was issued for the given app. A request naming a different app does
// not consume the session.
func (h *VerificationHandler) consumeSession(pub *crypto.SessionPublic, appID string) (*signingSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := sessionKey(pub)
	s, ok := h.sessions[key]
	if !ok || s.app != appID {
		return nil, false
	}
	delete(h.sessions, key)
	if h.now().After(s.expiresAt) {
		return nil, false
	}
	return s, true
}

func (h *VerificationHandler) handleBlinded(w http.ResponseWriter, r *http.Request) {
	var req BlindedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrorMalformedOperation, err, "decoding request"))
		return
	}

	app, err := h.loadApp(r.Context(), req.App)
	if err != nil {
		writeError(w, err)
		return
	}

	rounded := h.roundedTimestamp(app)
	info, err := h.buildInfo(app, rounded)
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}

	priv, pub, err := h.issuer.NewSession(info)
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}
	h.storeSession(pub, &signingSession{
		priv:      priv,
		app:       app.ID,
		info:      info,
		expiresAt: h.now().Add(h.cfg.SessionTTL),
	})

	writeJSON(w, http.StatusOK, BlindedResponse{
		Public:           PublicSession{A: pub.A.String(), B: pub.B.String()},
		IssuerPublicKey:  h.issuer.Y.String(),
		Verification:     app.Verification,
		RoundedTimestamp: rounded,
	})
}

// sigChallenge is the canonical content the requester signs to prove they
// own the identity asking for the signature.
type sigChallenge struct {
	A string `json:"a"`
	B string `json:"b"`
	E string `json:"e"`
}

func (h *VerificationHandler) handleSig(w http.ResponseWriter, r *http.Request) {
	var req SigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrorMalformedOperation, err, "decoding request"))
		return
	}
	ctx := r.Context()

	group := h.issuer.Group()
	a, err := group.ParseElement(req.Public.A)
	if err != nil {
		writeError(w, protocol.NewError(protocol.ErrorMalformedOperation, "invalid session element a"))
		return
	}
	b, err := group.ParseElement(req.Public.B)
	if err != nil {
		writeError(w, protocol.NewError(protocol.ErrorMalformedOperation, "invalid session element b"))
		return
	}
	e, err := group.ParseScalar(req.E)
	if err != nil {
		writeError(w, protocol.NewError(protocol.ErrorMalformedOperation, "invalid challenge scalar"))
		return
	}

	challenge, err := json.Marshal(sigChallenge{A: req.Public.A, B: req.Public.B, E: req.E})
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}
	if err := h.engine.VerifySignature(ctx, req.ID, req.Sig, challenge); err != nil {
		writeError(w, err)
		return
	}

	app, err := h.loadApp(ctx, req.App)
	if err != nil {
		writeError(w, err)
		return
	}

	u, err := h.engine.Store().User(ctx, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, protocol.NewError(protocol.ErrorUserNotFound, "user %s not found", req.ID))
		return
	}
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}
	if app.Verification != "" && !u.HasVerification(app.Verification) {
		writeError(w, protocol.NewError(protocol.ErrorVerificationNotHeld,
			"%s does not hold verification %q", req.ID, app.Verification))
		return
	}

	sponsored, err := h.engine.Store().HasSponsorship(ctx, req.ID, app.ID)
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}
	if !sponsored {
		writeError(w, protocol.NewError(protocol.ErrorNotSponsored,
			"%s is not sponsored by app %s", req.ID, app.ID))
		return
	}

	session, ok := h.consumeSession(&crypto.SessionPublic{A: a, B: b}, app.ID)
	if !ok {
		writeError(w, protocol.NewError(protocol.ErrorSessionNotFound,
			"no signing session for the given parameters"))
		return
	}

	resp := h.issuer.Respond(session.priv, e)
	h.log.Info("blind signature issued", "app", app.ID)
	writeJSON(w, http.StatusOK, SigResponse{
		R: resp.R.String(), C: resp.C.String(), S: resp.S.String(), D: resp.D.String(),
	})
}

func (h *VerificationHandler) handleUnblinded(w http.ResponseWriter, r *http.Request) {
	var req UnblindedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, protocol.WrapError(protocol.ErrorMalformedOperation, err, "decoding request"))
		return
	}

	app, err := h.loadApp(r.Context(), req.App)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := h.buildInfo(app, req.RoundedTimestamp)
	if err != nil {
		writeError(w, protocol.Internal(err))
		return
	}

	group := h.issuer.Group()
	sig := &crypto.BlindSignature{}
	for _, f := range []struct {
		raw string
		dst **big.Int
	}{
		{req.Rho, &sig.Rho}, {req.Omega, &sig.Omega}, {req.Sigma, &sig.Sigma}, {req.Delta, &sig.Delta},
	} {
		n, err := group.ParseScalar(f.raw)
		if err != nil {
			writeError(w, protocol.NewError(protocol.ErrorMalformedOperation, "invalid signature scalar"))
			return
		}
		*f.dst = n
	}

	valid := crypto.VerifyBlindSignature(group, h.issuer.Y, info, []byte(req.Msg), sig)
	writeJSON(w, http.StatusOK, UnblindedResponse{Valid: valid})
}
