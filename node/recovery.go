package node

import (
	"context"
	"time"

	"github.com/BrightID/BrightID-Node-sub000/model"
)

const (
	// recoveryActivation is the delay before a newly designated recovery
	// connection may participate in key resets, and the grace period a
	// revoked one keeps after removal. Resisting fast account takeover is
	// the whole point: an attacker who compromises a key cannot
	// immediately install their own recovery helpers.
	recoveryActivation = 7 * 24 * time.Hour

	// firstDayWindow waives the activation delay for connections set within
	// the first day after a user's first-ever recovery designation, so new
	// users can finish setting up social recovery in one sitting.
	firstDayWindow = 24 * time.Hour
)

// RecoveryConnection is the eligibility verdict for one candidate helper.
// Durations are reported in milliseconds.
type RecoveryConnection struct {
	ID string `json:"id"`
	// IsActive reports whether the candidate may participate in a signing
	// key reset right now.
	IsActive bool `json:"isActive"`
	// ActiveAfter is how long until a pending designation activates.
	ActiveAfter int64 `json:"activeAfter"`
	// ActiveBefore is how much revocation grace an active candidate has
	// left; zero while the designation is still in place.
	ActiveBefore int64 `json:"activeBefore"`
}

// recoveryPeriod is a maximal contiguous interval during which the
// connection level was recovery. An interval still open now has end == now.
type recoveryPeriod struct {
	start int64
	end   int64
	open  bool
}

func recoveryPeriods(history []model.ConnectionEvent, now int64) []recoveryPeriod {
	var periods []recoveryPeriod
	var cur *recoveryPeriod
	for _, ev := range history {
		if ev.Level == model.Recovery {
			if cur == nil {
				periods = append(periods, recoveryPeriod{start: ev.Timestamp})
				cur = &periods[len(periods)-1]
			}
		} else if cur != nil {
			cur.end = ev.Timestamp
			cur = nil
		}
	}
	if cur != nil {
		cur.end = now
		cur.open = true
	}
	return periods
}

// evalRecovery applies the eligibility rules to one candidate's periods.
// firstDayBorder is the end of the target's first-day waiver window.
func evalRecovery(periods []recoveryPeriod, firstDayBorder, now int64) (isActive bool, activeAfter, activeBefore int64) {
	activation := recoveryActivation.Milliseconds()

	qualifies := func(p recoveryPeriod) bool {
		return p.end > now-activation && (p.end-p.start > activation || p.start < firstDayBorder)
	}

	for _, p := range periods {
		if qualifies(p) {
			isActive = true
			if !p.open {
				activeBefore = p.end - (now - activation)
			}
			return isActive, 0, activeBefore
		}
	}

	if len(periods) > 0 {
		last := periods[len(periods)-1]
		if last.open && last.start > firstDayBorder {
			activeAfter = activation - (last.end - last.start)
		}
	}
	return false, activeAfter, 0
}

// RecoveryConnections computes, from the target's outbound connection
// histories, which peers currently count as recovery helpers and the
// activation/grace windows of the rest. Candidates that are inactive with
// no pending activation and no remaining grace are omitted.
//
// Eligibility is recomputed from the history on every call; it is never
// cached across history mutations.
func (e *Engine) RecoveryConnections(ctx context.Context, target string) ([]RecoveryConnection, error) {
	now := e.nowMillis()

	conns, err := e.store.ConnectionsFrom(ctx, target)
	if err != nil {
		return nil, err
	}

	// The waiver border derives from the first recovery period the target
	// ever opened, across all peers.
	histories := make(map[string][]recoveryPeriod, len(conns))
	var firstRecovery int64
	for _, c := range conns {
		history, err := e.store.ConnectionHistory(ctx, target, c.To)
		if err != nil {
			return nil, err
		}
		periods := recoveryPeriods(history, now)
		if len(periods) == 0 {
			continue
		}
		histories[c.To] = periods
		if firstRecovery == 0 || periods[0].start < firstRecovery {
			firstRecovery = periods[0].start
		}
	}
	firstDayBorder := firstRecovery + firstDayWindow.Milliseconds()

	var out []RecoveryConnection
	for _, c := range conns {
		periods, ok := histories[c.To]
		if !ok {
			continue
		}
		isActive, after, before := evalRecovery(periods, firstDayBorder, now)
		if !isActive && after == 0 && before == 0 {
			continue
		}
		out = append(out, RecoveryConnection{
			ID:           c.To,
			IsActive:     isActive,
			ActiveAfter:  after,
			ActiveBefore: before,
		})
	}
	return out, nil
}

// isActiveRecovery reports whether candidate may currently help reset the
// target's signing key.
func (e *Engine) isActiveRecovery(ctx context.Context, target, candidate string) (bool, error) {
	conns, err := e.RecoveryConnections(ctx, target)
	if err != nil {
		return false, err
	}
	for _, rc := range conns {
		if rc.ID == candidate && rc.IsActive {
			return true, nil
		}
	}
	return false, nil
}
