// FILE: engine.go
// Package main – Decision engine: indicators → phase → policy → guarded decision.
//
// Engine owns one StrategyConfig. Evaluate is a pure read: it never touches
// the snapshot or the config and returns the same decision for the same
// inputs. ApplyFeedback is the only mutation and only moves Aggressiveness:
//   • won with efficiency > 0.9   → aggressiveness −0.05 (never below 0.3)
//   • lost below our max bid       → aggressiveness +0.10 (never above 1.0)
// Feedback never reaches a session already in flight elsewhere; new sessions
// pick the learned value up through the tuning store (state.go).

package main

import (
	"math"
	"sync"
)

const (
	feedbackEfficiency = 0.9
	feedbackCool       = 0.05
	feedbackHeat       = 0.10
	aggressivenessMin  = 0.3
)

// Feedback is the post-auction outcome reported by the caller.
type Feedback struct {
	Won        bool    `json:"won"`
	FinalPrice float64 `json:"final_price"`
	Efficiency float64 `json:"efficiency"`
}

// Efficiency is the share of the budget left unspent: (maxBid-finalPrice)/maxBid.
func Efficiency(maxBid, finalPrice float64) float64 {
	if !(maxBid > 0) {
		return 0
	}
	e := (maxBid - finalPrice) / maxBid
	if math.IsNaN(e) {
		return 0
	}
	return e
}

// Engine evaluates snapshots against one strategy.
type Engine struct {
	mu  sync.RWMutex
	cfg StrategyConfig
}

// NewEngine validates cfg and returns an engine for it.
func NewEngine(cfg StrategyConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the current strategy.
func (e *Engine) Config() StrategyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) Aggressiveness() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Aggressiveness
}

// Evaluate returns the decision for s under the current strategy.
func (e *Engine) Evaluate(s AuctionSnapshot) BidDecision {
	return evaluate(s, e.Config())
}

// ApplyFeedback adjusts aggressiveness from an auction outcome and returns the
// value before and after.
func (e *Engine) ApplyFeedback(fb Feedback) (before, after float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	before = e.cfg.Aggressiveness
	e.cfg.Aggressiveness = adjustAggressiveness(before, e.cfg.MaxBid, fb)
	return before, e.cfg.Aggressiveness
}

func adjustAggressiveness(a, maxBid float64, fb Feedback) float64 {
	switch {
	case fb.Won && fb.Efficiency > feedbackEfficiency:
		if a <= aggressivenessMin {
			return a
		}
		return math.Max(aggressivenessMin, a-feedbackCool)
	case !fb.Won && fb.FinalPrice < maxBid:
		return math.Min(1.0, a+feedbackHeat)
	}
	return a
}

// evaluate is the pure decision function.
func evaluate(s AuctionSnapshot, cfg StrategyConfig) BidDecision {
	sig := computeSignals(s)
	phase := selectPhase(s, cfg)

	var d BidDecision
	switch phase {
	case PhaseSnipe:
		d = decideSnipe(s, cfg, sig)
	case PhaseExploration:
		d = decideExploration(s, sig)
	case PhaseContested:
		d = decideContested(s, cfg, sig)
	default:
		d = decideTerminal(s, cfg, sig)
	}
	d.Phase = phase
	d.Signals = sig
	return guardAmount(d, s, cfg)
}

// guardAmount rounds a bid to cents and keeps it within (currentPrice, maxBid].
// A bid that cannot satisfy both becomes a hold.
func guardAmount(d BidDecision, s AuctionSnapshot, cfg StrategyConfig) BidDecision {
	if !d.ShouldBid {
		d.Amount = 0
		return d
	}
	amt := roundCents(d.Amount)
	if amt > cfg.MaxBid {
		amt = floorCents(cfg.MaxBid)
	}
	if !(amt > 0) || amt <= s.CurrentPrice {
		reason := "max bid reached"
		if !(s.CurrentPrice > 0) && !(amt > 0) {
			reason = noPriceReason
		}
		return BidDecision{
			Reasoning:  reason,
			Confidence: 0.7,
			Tag:        holdTag(s.Leading()),
			Phase:      d.Phase,
			Signals:    d.Signals,
		}
	}
	d.Amount = amt
	return d
}
