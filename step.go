// ---------------------------------------------------------------------------------------------
// FILE: step.go – One synchronized autopilot tick (SNAPSHOT → DECIDE → BID)
//
// Overview
//   step(ctx, run) is the body of the control loop. It reads a fresh snapshot, stops if the
//   lot has ended, otherwise asks the engine for a decision and, when the engine wants to bid,
//   submits exactly one bid. Every stage writes one entry to the run's tick log.
//
// Concurrency & Locks
//   • Holds s.opMu for the whole tick, so a manual bid, a check or a close never interleaves
//     with it. The sleep between ticks happens in live.go with no lock held.
//
// Errors
//   • A failed snapshot is a tick-level ERROR entry; the tick ends and the loop retries.
//   • A rejected bid is a FAILED entry; nothing is retried inside the tick.
//   • Only ErrSessionClosed is returned to the loop.
// ---------------------------------------------------------------------------------------------

package main

import (
	"context"
	"fmt"
	"time"
)

// stepResult reports what one tick observed.
type stepResult struct {
	ended         bool
	fetchFailed   bool
	timeRemaining time.Duration
}

func (s *Session) step(ctx context.Context, run *tickLog) (stepResult, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return stepResult{}, ErrSessionClosed
	}

	snap, err := s.fetch(ctx)
	if err != nil {
		run.add(s.entry(TickError, err.Error()))
		mtxTicks.WithLabelValues("error").Inc()
		return stepResult{fetchFailed: true}, nil
	}
	s.setLast(snap)
	e := s.entry(TickSnapshot, fmt.Sprintf("price=%.2f remaining=%s bids=%d rivals=%d leading=%v",
		snap.CurrentPrice, snap.TimeRemaining.Round(time.Second), len(snap.BidHistory), snap.CompetitorCount, snap.Leading()))
	view := snap.clone()
	e.Snapshot = &view
	run.add(e)

	if snap.TimeRemaining <= 0 {
		run.add(s.entry(TickEnd, fmt.Sprintf("auction ended at %.2f (won=%v)", snap.CurrentPrice, snap.Leading())))
		mtxTicks.WithLabelValues("ended").Inc()
		return stepResult{ended: true}, nil
	}

	d := s.engine.Evaluate(snap)
	mtxDecisions.WithLabelValues(string(d.Phase), string(d.Tag)).Inc()
	de := s.entry(TickDecide, d.String())
	de.Decision = &d
	run.add(de)

	if d.ShouldBid {
		out := s.placeBid(ctx, d.Amount)
		if out.Success {
			run.add(s.entry(TickBid, fmt.Sprintf("placed %.2f (total cost %.2f) id=%s", out.Amount, out.TotalCost, out.BidID)))
		} else {
			run.add(s.entry(TickFailed, fmt.Sprintf("bid %.2f rejected: %s", out.Amount, out.Error)))
		}
	}
	mtxTicks.WithLabelValues("ok").Inc()
	return stepResult{timeRemaining: snap.TimeRemaining}, nil
}

func (s *Session) entry(kind TickKind, msg string) TickEntry {
	return TickEntry{Time: s.clock().UTC(), Kind: kind, Message: msg}
}
