// FILE: strategy.go
// Package main – Phase selection and the four phase policies.
//
// The remaining time picks the phase (sniping overrides everything inside its
// window), then the phase policy turns the snapshot plus its indicators into a
// BidDecision:
//   • Exploration (> 5 min)   – anchor cheaply, never chase
//   • Contested   (1–5 min]   – escalate only when the lead is worth fighting for
//   • Terminal    (<= 1 min)  – one final push up to 110% of the price
//   • Snipe       (<= window) – go straight to min(maxBid, estimatedValue)
//
// Policies return raw amounts; the engine rounds and enforces the max bid.

package main

import (
	"fmt"
	"math"
)

const (
	explorationAnchorRatio = 0.6
	contestedValueRatio    = 0.85
	fightInitiative        = 0.6
	fightAggressiveness    = 0.5
	terminalPressure       = 0.7
)

// noPriceReason explains a hold on a lot with no opening price; the
// percentage policies have nothing to step up from.
const noPriceReason = "no price to increment from"

// selectPhase maps the remaining time onto a phase.
func selectPhase(s AuctionSnapshot, cfg StrategyConfig) Phase {
	if cfg.Sniping && s.TimeRemaining <= cfg.SnipeWindow {
		return PhaseSnipe
	}
	minutes := s.TimeRemaining.Minutes()
	switch {
	case minutes > 5:
		return PhaseExploration
	case minutes > 1:
		return PhaseContested
	default:
		return PhaseTerminal
	}
}

// holdTag labels a non-bid by whether we still hold the lead.
func holdTag(leading bool) PhaseTag {
	if leading {
		return TagHold
	}
	return TagYield
}

func hold(reason string, conf float64, leading bool) BidDecision {
	return BidDecision{Reasoning: reason, Confidence: conf, Tag: holdTag(leading)}
}

func bid(amount float64, reason string, conf float64, tag PhaseTag) BidDecision {
	return BidDecision{ShouldBid: true, Amount: amount, Reasoning: reason, Confidence: conf, Tag: tag}
}

func decideExploration(s AuctionSnapshot, sig Signals) BidDecision {
	leading := s.Leading()
	if leading {
		return hold("holding lead, no action needed", 0.9, true)
	}
	if sig.ValueRatio < explorationAnchorRatio {
		return bid(mulCents(s.CurrentPrice, 1.05),
			fmt.Sprintf("early anchor: price at %.0f%% of estimated value", sig.ValueRatio*100),
			0.7, TagInitiative)
	}
	return hold("price not attractive enough", 0.8, false)
}

func decideContested(s AuctionSnapshot, cfg StrategyConfig, sig Signals) BidDecision {
	leading := s.Leading()
	worthFight := sig.InitiativeValue > fightInitiative && cfg.Aggressiveness > fightAggressiveness
	if leading && !worthFight {
		return hold("leading, contest not worth escalating", 0.85, true)
	}
	if sig.ValueRatio < contestedValueRatio {
		inc := s.CurrentPrice * 0.05 * (1 + sig.InitiativeValue*cfg.Aggressiveness)
		candidate := s.CurrentPrice + inc
		if candidate <= cfg.MaxBid {
			return bid(candidate,
				fmt.Sprintf("contesting: initiative %.2f, aggressiveness %.2f", sig.InitiativeValue, cfg.Aggressiveness),
				math.Min(0.95, 0.6+0.3*sig.InitiativeValue), TagInitiative)
		}
	}
	return hold("price too high or max bid reached", 0.7, leading)
}

func decideTerminal(s AuctionSnapshot, cfg StrategyConfig, sig Signals) BidDecision {
	leading := s.Leading()
	if leading && sig.BidPressure < terminalPressure {
		return hold(fmt.Sprintf("leading into the close, pressure %.2f", sig.BidPressure), 0.95, true)
	}
	if sig.ValueRatio < 1 {
		final := math.Min(cfg.MaxBid, s.CurrentPrice*1.1)
		if final > s.CurrentPrice {
			return bid(final, "final push before the close", 0.8, TagTerminal)
		}
		if !(s.CurrentPrice > 0) {
			return hold(noPriceReason, 0.9, leading)
		}
		return hold("max bid reached", 0.9, leading)
	}
	return hold("price exceeded value threshold", 0.9, leading)
}

func decideSnipe(s AuctionSnapshot, cfg StrategyConfig, sig Signals) BidDecision {
	leading := s.Leading()
	if sig.ValueRatio < 1 && !leading {
		return bid(math.Min(cfg.MaxBid, s.EstimatedValue), "sniping inside the closing window", 0.85, TagTerminal)
	}
	if leading {
		return hold("holding winning position", 0.95, true)
	}
	return hold("price at or above estimated value, letting it go", 0.95, false)
}
