// Package node implements the operation pipeline and the trust-graph
// semantics behind it: signature verification, idempotent admission,
// sender-bucketed rate limiting, recovery and group eligibility, and the
// apply dispatcher.
package node

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BrightID/BrightID-Node-sub000/common"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// legacyVersion is the last protocol version whose concatenated message
// formats are still verified.
const legacyVersion = 5

// Engine drives the operation pipeline against a storage collaborator.
// Processing is request-synchronous: no operation suspends mid-mutation.
// The only cross-instance concurrency primitive is the store's
// insert-if-absent on the operation hash.
type Engine struct {
	store   store.Store
	limiter *Limiter
	cfg     *protocol.Config
	log     *slog.Logger
	now     func() time.Time
}

// New creates an engine. A nil clock means time.Now.
func New(st store.Store, cfg *protocol.Config, log *slog.Logger, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:   st,
		limiter: NewLimiter(cfg.RateLimitWindow, cfg.RateLimit, now),
		cfg:     cfg,
		log:     log,
		now:     now,
	}
}

// Store exposes the engine's storage collaborator.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) nowMillis() int64 {
	return e.now().UnixMilli()
}

// Submit runs the admission pipeline: structural validation, canonical
// hash recomputation, clock-skew check, signature verification, rate
// limiting and the atomic insert-if-absent that makes admission
// idempotent. Every failure here happens before anything is persisted.
// On success the operation is stored in state init and its hash returned.
func (e *Engine) Submit(ctx context.Context, op *protocol.Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}
	if op.V != common.Version && op.V != legacyVersion {
		return "", protocol.NewError(protocol.ErrorMalformedOperation,
			"unsupported protocol version %d", op.V)
	}

	hash, err := protocol.HashOperation(op)
	if err != nil {
		return "", protocol.WrapError(protocol.ErrorMalformedOperation, err, "hashing operation")
	}
	if op.Hash != "" && op.Hash != hash {
		return "", protocol.NewError(protocol.ErrorHashMismatch,
			"operation hash does not match canonical content")
	}
	op.Hash = hash

	if op.Timestamp > e.nowMillis()+e.cfg.MaxClockSkew.Milliseconds() {
		return "", protocol.NewError(protocol.ErrorTimestampInFuture,
			"timestamp is too far in the future")
	}

	if err := e.verifySignatures(ctx, op); err != nil {
		return "", err
	}

	buckets, err := e.senderBuckets(ctx, op)
	if err != nil {
		return "", protocol.Internal(err)
	}
	if !e.limiter.Allow(buckets) {
		return "", protocol.NewError(protocol.ErrorTooManyOperations,
			"too many operations for sender")
	}

	op.State = protocol.StateInit
	op.Result = ""
	if err := e.store.InsertOperation(ctx, op); err != nil {
		if errors.Is(err, store.ErrDuplicateOperation) {
			return "", protocol.NewError(protocol.ErrorAppliedBefore,
				"operation was applied before")
		}
		return "", protocol.Internal(err)
	}

	e.log.Info("operation admitted", "kind", string(op.Name), "hash", hash)
	return hash, nil
}

// Apply settles an admitted operation. It is invoked by the consensus
// collaborator with the finalized block time and is idempotent: an
// operation already applied or failed is returned unchanged with its
// stored result. Domain errors are recorded into the operation's result
// with state failed, keeping the record auditable; only backend failures
// surface as errors.
func (e *Engine) Apply(ctx context.Context, hash string, blockTime int64) (*protocol.Operation, error) {
	op, err := e.store.Operation(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocol.NewError(protocol.ErrorOperationNotFound,
				"no admitted operation with hash %s", hash)
		}
		return nil, protocol.Internal(err)
	}

	if op.State != protocol.StateInit {
		return op, nil
	}

	op.BlockTime = blockTime
	if applyErr := e.dispatch(ctx, op); applyErr != nil {
		if !protocol.CodeOf(applyErr).Domain() {
			return nil, applyErr
		}
		op.State = protocol.StateFailed
		op.Result = applyErr.Error()
		if err := e.store.UpdateOperation(ctx, hash, op.State, op.Result, op.BlockTime); err != nil {
			return nil, protocol.Internal(err)
		}
		e.log.Warn("operation failed", "kind", string(op.Name), "hash", hash, "result", op.Result)
		return op, nil
	}

	op.State = protocol.StateApplied
	op.Result = ""
	if err := e.store.UpdateOperation(ctx, hash, op.State, op.Result, op.BlockTime); err != nil {
		return nil, protocol.Internal(err)
	}
	e.log.Info("operation applied", "kind", string(op.Name), "hash", hash)
	return op, nil
}

// OperationState returns the stored operation for polling.
func (e *Engine) OperationState(ctx context.Context, hash string) (*protocol.Operation, error) {
	op, err := e.store.Operation(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocol.NewError(protocol.ErrorOperationNotFound,
				"no operation with hash %s", hash)
		}
		return nil, protocol.Internal(err)
	}
	return op, nil
}

// senderBuckets classifies each sender of the operation for rate limiting:
// unknown senders share one bucket, verified users get their own, users
// with a recorded parent share their verified connector's bucket.
func (e *Engine) senderBuckets(ctx context.Context, op *protocol.Operation) ([]string, error) {
	senders := op.Senders()
	buckets := make([]string, 0, len(senders))
	for _, id := range senders {
		b, err := e.senderBucket(ctx, id)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

func (e *Engine) senderBucket(ctx context.Context, id string) (string, error) {
	u, err := e.store.User(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "shared", nil
	}
	if err != nil {
		return "", err
	}
	if u.HasVerification(verifiedCredential) {
		return u.ID, nil
	}
	if u.Parent != "" {
		return "shared_" + u.Parent, nil
	}
	return "shared", nil
}

// verifiedCredential is the verification name that marks a user as fully
// verified for rate-limit bucketing and parent assignment.
const verifiedCredential = "BrightID"
