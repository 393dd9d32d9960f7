// FILE: live.go
// Package main – Autopilot control loop and its tick log.
//
// RunAutopilot drives one session in real time:
//   • Each iteration first honours a stop request (StopAutopilot, ctx, close).
//   • step() fetches, decides and possibly bids (see step.go).
//   • The loop ends when the lot ends, when the duration budget is spent, or
//     when it is stopped. It never recurses and never stops mid-submission.
//   • Between ticks it sleeps checkInterval (1s inside the last minute when
//     adaptive polling is on), waking early on a stop request.
//
// Notes:
//   - Broker failures are logged as ERROR entries and retried next tick.
//   - One run per session at a time; a second caller gets ErrAutopilotRunning.
//   - beginAutopilot claims the slot synchronously so the API can answer 202
//     only once a stop is guaranteed to reach the run.

package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	maxTickLog        = 500
	adaptiveWindow    = time.Minute
	adaptiveIntervalS = time.Second
)

// TickKind tags a tick log entry.
type TickKind string

const (
	TickSnapshot TickKind = "SNAPSHOT"
	TickDecide   TickKind = "DECIDE"
	TickBid      TickKind = "BID"
	TickFailed   TickKind = "FAILED"
	TickError    TickKind = "ERROR"
	TickEnd      TickKind = "END"
	TickTimeout  TickKind = "TIMEOUT"
	TickStop     TickKind = "STOP"
)

// TickEntry is one line of the battle log.
type TickEntry struct {
	Time     time.Time        `json:"time"`
	Kind     TickKind         `json:"kind"`
	Message  string           `json:"message"`
	Snapshot *AuctionSnapshot `json:"snapshot,omitempty"`
	Decision *BidDecision     `json:"decision,omitempty"`
}

func (e TickEntry) String() string {
	return fmt.Sprintf("[%s] [%s] %s", e.Time.Format("15:04:05"), e.Kind, e.Message)
}

// tickLog is a bounded, concurrency-safe log of one run.
type tickLog struct {
	mu   sync.Mutex
	max  int
	list []TickEntry
}

func newTickLog(max int) *tickLog { return &tickLog{max: max} }

func (l *tickLog) add(e TickEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, e)
	if l.max > 0 && len(l.list) > l.max {
		l.list = append(l.list[:0:0], l.list[len(l.list)-l.max:]...)
	}
}

func (l *tickLog) entries() []TickEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TickEntry(nil), l.list...)
}

// AutopilotResult is the outcome of one RunAutopilot call.
type AutopilotResult struct {
	Ended        bool            `json:"ended"`
	TimedOut     bool            `json:"timed_out"`
	Stopped      bool            `json:"stopped"`
	Ticks        int             `json:"ticks"`
	TickLog      []TickEntry     `json:"tick_log"`
	LastSnapshot AuctionSnapshot `json:"last_snapshot"`
}

func (r AutopilotResult) outcome() string {
	switch {
	case r.Ended:
		return "ended"
	case r.TimedOut:
		return "timeout"
	default:
		return "stopped"
	}
}

// RunAutopilot runs the control loop until the lot ends, duration elapses
// (0 = unbounded) or the run is stopped.
func (s *Session) RunAutopilot(ctx context.Context, checkInterval, duration time.Duration) (AutopilotResult, error) {
	run, err := s.beginAutopilot(checkInterval, duration)
	if err != nil {
		return AutopilotResult{}, err
	}
	return s.runAutopilot(ctx, run, checkInterval, duration), nil
}

// beginAutopilot claims the session's single autopilot slot and installs a
// fresh tick log. A stop requested before this point is kept, so the run it
// was aimed at ends on its first check.
func (s *Session) beginAutopilot(checkInterval, duration time.Duration) (*tickLog, error) {
	if checkInterval < 0 {
		return nil, &ConfigError{Field: "check_interval", Reason: "must be >= 0"}
	}
	if duration < 0 {
		return nil, &ConfigError{Field: "duration", Reason: "must be >= 0"}
	}
	if s.isClosed() {
		return nil, ErrSessionClosed
	}
	if !s.autopilot.CompareAndSwap(false, true) {
		return nil, ErrAutopilotRunning
	}
	run := newTickLog(maxTickLog)
	s.run.Store(run)
	return run, nil
}

// runAutopilot is the loop body of a run claimed by beginAutopilot; it
// releases the slot and consumes any stop request on return.
func (s *Session) runAutopilot(ctx context.Context, run *tickLog, checkInterval, duration time.Duration) AutopilotResult {
	start := s.clock()
	s.log.Info("autopilot started", "interval", checkInterval, "duration", duration)

	var res AutopilotResult
	for {
		if s.stopReq.Load() {
			run.add(s.entry(TickStop, "stop requested"))
			res.Stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			run.add(s.entry(TickStop, "canceled: "+err.Error()))
			res.Stopped = true
			break
		}

		res.Ticks++
		out, err := s.step(ctx, run)
		if err != nil {
			run.add(s.entry(TickStop, err.Error()))
			res.Stopped = true
			break
		}
		if out.ended {
			res.Ended = true
			break
		}
		if duration > 0 && s.clock().Sub(start) >= duration {
			run.add(s.entry(TickTimeout, fmt.Sprintf("duration %s exhausted", duration)))
			res.TimedOut = true
			break
		}
		if !s.sleep(ctx, s.pollInterval(checkInterval, out)) {
			// woken by a stop request or ctx; the top of the loop records why
			continue
		}
	}

	res.TickLog = run.entries()
	res.LastSnapshot = s.LastSnapshot()
	mtxAutopilotRuns.WithLabelValues(res.outcome()).Inc()
	s.lastRun.Store(&res)
	s.releaseAutopilot()
	s.log.Info("autopilot finished", "outcome", res.outcome(), "ticks", res.Ticks,
		"price", res.LastSnapshot.CurrentPrice, "leading", res.LastSnapshot.Leading())
	return res
}

// releaseAutopilot consumes the stop request aimed at the finished run and
// frees the slot.
func (s *Session) releaseAutopilot() {
	s.stopReq.Store(false)
	select {
	case <-s.wake:
	default:
	}
	s.autopilot.Store(false)
}

// pollInterval shortens the wait inside the last minute when adaptive polling is on.
func (s *Session) pollInterval(base time.Duration, out stepResult) time.Duration {
	if s.adaptive && !out.fetchFailed && out.timeRemaining > 0 && out.timeRemaining <= adaptiveWindow && base > adaptiveIntervalS {
		return adaptiveIntervalS
	}
	return base
}

// sleep waits d; it returns false when interrupted by ctx or a stop request.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.wake:
		return false
	}
}
