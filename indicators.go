// FILE: indicators.go
// Package main – Lot indicators feeding the phase strategies.
//
// This file implements the pure metric calculators used by the engine:
//   • valueRatio(s)        – currentPrice / estimatedValue (1.0 when the estimate is unusable)
//   • priceAcceleration(h) – last increment vs mean increment over the last 5 bids, in [0,1]
//   • bidPressure(s)       – rival bid frequency blended with acceleration, in [0,1]
//   • initiativeValue(s)   – how much taking the lead is worth now, in [0,1]
//   • competitorCount(h)   – distinct non-self bidders
//
// Notes
//   - Every function is total: degenerate inputs (empty history, zero or
//     negative estimates, NaN) return the documented neutral value.
//   - Keep these allocation-light; they run on every tick.
package main

import (
	"math"
	"time"
)

const (
	recentBidWindow = 5
	competitorSat   = 5.0
	urgencyHorizon  = 5 * time.Minute
)

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// recentBids returns the last n bids of h (or all of them).
func recentBids(h []Bid, n int) []Bid {
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// valueRatio returns currentPrice/estimatedValue, or 1.0 when the estimate is <= 0.
func valueRatio(s AuctionSnapshot) float64 {
	if !(s.EstimatedValue > 0) || math.IsInf(s.EstimatedValue, 0) {
		return 1.0
	}
	r := s.CurrentPrice / s.EstimatedValue
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 1.0
	}
	return r
}

// priceAcceleration compares the newest increment with the mean increment over
// the last five bids. Fewer than two bids, or a non-positive mean, yields 0.
func priceAcceleration(h []Bid) float64 {
	if len(h) < 2 {
		return 0
	}
	recent := recentBids(h, recentBidWindow)
	var sum, last float64
	n := 0
	for i := 1; i < len(recent); i++ {
		last = recent[i].Amount - recent[i-1].Amount
		sum += last
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	if !(mean > 0) {
		return 0
	}
	return clamp01(math.Min(1, last/mean))
}

// bidPressure = 0.5·frequency + 0.5·acceleration, clamped to [0,1]. Frequency is
// the rival bids among the last five divided by the remaining minutes (at least 1).
func bidPressure(s AuctionSnapshot) float64 {
	rivals := 0
	for _, b := range recentBids(s.BidHistory, recentBidWindow) {
		if !b.Self {
			rivals++
		}
	}
	minutes := math.Max(1, s.TimeRemaining.Minutes())
	freq := float64(rivals) / minutes
	return clamp01(0.5*freq + 0.5*priceAcceleration(s.BidHistory))
}

// initiativeValue = 0.4·competition + 0.3·(1-valueRatio) + 0.3·urgency.
func initiativeValue(s AuctionSnapshot, vr float64) float64 {
	competition := clamp01(math.Min(1, float64(s.CompetitorCount)/competitorSat))
	value := clamp01(1 - vr)
	urgency := clamp01(1 - math.Min(1, float64(s.TimeRemaining)/float64(urgencyHorizon)))
	return clamp01(0.4*competition + 0.3*value + 0.3*urgency)
}

// competitorCount counts distinct rival bidders in h.
func competitorCount(h []Bid) int {
	seen := make(map[string]struct{}, len(h))
	for _, b := range h {
		if b.Self || b.Bidder == "" {
			continue
		}
		seen[b.Bidder] = struct{}{}
	}
	return len(seen)
}

// computeSignals evaluates every indicator for s.
func computeSignals(s AuctionSnapshot) Signals {
	vr := valueRatio(s)
	return Signals{
		ValueRatio:        vr,
		PriceAcceleration: priceAcceleration(s.BidHistory),
		BidPressure:       bidPressure(s),
		InitiativeValue:   initiativeValue(s, vr),
	}
}
