// FILE: auction.go
// Package main – Auction data model shared by the engine, brokers and sessions.
//
// Types declared here:
//   • Bid             – one entry of a lot's bid history (Self marks our own bids)
//   • AuctionSnapshot – point-in-time view of a lot, the only input of the engine
//   • StrategyConfig  – per-lot bidding knobs (hard max bid, aggressiveness, sniping)
//   • BidDecision     – engine output: bid or hold, amount, reasoning, confidence, tag
//   • Phase / PhaseTag – time-driven phase and the posture a decision takes
//
// Notes:
//   • Leadership is an explicit flag on each Bid, set by the broker that parsed
//     the lot page. The bidder string "self" is kept only for readable logs.
//   • Durations are time.Duration; JSON views expose whole seconds.

package main

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SelfBidder is the bidder label written on our own bids.
const SelfBidder = "self"

// Bid is one bid on a lot.
type Bid struct {
	Time   time.Time `json:"time"`
	Amount float64   `json:"amount"`
	Bidder string    `json:"bidder"`
	Self   bool      `json:"self"`
}

// AuctionSnapshot is what the engine sees of a lot at one instant.
type AuctionSnapshot struct {
	AuctionID       string
	Title           string
	CurrentPrice    float64
	TimeRemaining   time.Duration
	BidHistory      []Bid // oldest first
	EstimatedValue  float64
	CompetitorCount int
	YourMaxBid      float64
}

// Leading reports whether the most recent bid is ours.
func (s AuctionSnapshot) Leading() bool {
	if len(s.BidHistory) == 0 {
		return false
	}
	return s.BidHistory[len(s.BidHistory)-1].Self
}

// clone returns a copy whose history can be appended to independently.
func (s AuctionSnapshot) clone() AuctionSnapshot {
	out := s
	out.BidHistory = append([]Bid(nil), s.BidHistory...)
	return out
}

// withSelfBid records a successful bid of ours and makes it the current price.
func (s AuctionSnapshot) withSelfBid(amount float64, at time.Time) AuctionSnapshot {
	out := s.clone()
	out.BidHistory = append(out.BidHistory, Bid{Time: at, Amount: amount, Bidder: SelfBidder, Self: true})
	if amount > out.CurrentPrice {
		out.CurrentPrice = amount
	}
	return out
}

// MarshalJSON exposes the remaining time in seconds.
func (s AuctionSnapshot) MarshalJSON() ([]byte, error) {
	if s.BidHistory == nil {
		s.BidHistory = []Bid{}
	}
	return json.Marshal(struct {
		AuctionID       string  `json:"auction_id"`
		Title           string  `json:"title,omitempty"`
		CurrentPrice    float64 `json:"current_price"`
		TimeRemainingS  float64 `json:"time_remaining_s"`
		BidHistory      []Bid   `json:"bid_history"`
		EstimatedValue  float64 `json:"estimated_value"`
		CompetitorCount int     `json:"competitor_count"`
		YourMaxBid      float64 `json:"your_max_bid"`
		Leading         bool    `json:"leading"`
	}{
		AuctionID:       s.AuctionID,
		Title:           s.Title,
		CurrentPrice:    s.CurrentPrice,
		TimeRemainingS:  s.TimeRemaining.Seconds(),
		BidHistory:      s.BidHistory,
		EstimatedValue:  s.EstimatedValue,
		CompetitorCount: s.CompetitorCount,
		YourMaxBid:      s.YourMaxBid,
		Leading:         s.Leading(),
	})
}

// StrategyConfig holds the per-lot bidding knobs. Only Aggressiveness moves
// after creation, and only through feedback.
type StrategyConfig struct {
	Profile        string // tuning profile shared by sessions that learn together
	MaxBid         float64
	TargetValue    float64
	Aggressiveness float64
	Sniping        bool
	SnipeWindow    time.Duration

	// AggressivenessPinned marks an operator-chosen Aggressiveness for this
	// lot; the profile's learned value does not replace it.
	AggressivenessPinned bool
}

// Validate checks the knobs that make a config unusable.
func (c StrategyConfig) Validate() error {
	switch {
	case !(c.MaxBid > 0):
		return &ConfigError{Field: "max_bid", Reason: "must be > 0"}
	case math.IsNaN(c.Aggressiveness) || c.Aggressiveness < 0 || c.Aggressiveness > 1:
		return &ConfigError{Field: "aggressiveness", Reason: "must be within [0,1]"}
	case c.SnipeWindow < 0:
		return &ConfigError{Field: "snipe_window", Reason: "must be >= 0"}
	case c.TargetValue < 0:
		return &ConfigError{Field: "target_value", Reason: "must be >= 0"}
	}
	return nil
}

// profile returns the tuning profile name, "default" when unset.
func (c StrategyConfig) profile() string {
	if c.Profile == "" {
		return "default"
	}
	return c.Profile
}

// Phase is the time-driven stage of a lot.
type Phase string

const (
	PhaseExploration Phase = "exploration"
	PhaseContested   Phase = "contested"
	PhaseTerminal    Phase = "terminal"
	PhaseSnipe       Phase = "snipe"
)

// PhaseTag is the posture of a decision.
type PhaseTag string

const (
	TagInitiative PhaseTag = "initiative" // bidding to take the lead before the close
	TagYield      PhaseTag = "yield"      // not leading and not bidding
	TagHold       PhaseTag = "hold"       // leading and not bidding
	TagTerminal   PhaseTag = "terminal"   // closing bid (terminal or snipe)
)

// Signals are the derived metrics a decision was based on.
type Signals struct {
	ValueRatio        float64 `json:"value_ratio"`
	PriceAcceleration float64 `json:"price_acceleration"`
	BidPressure       float64 `json:"bid_pressure"`
	InitiativeValue   float64 `json:"initiative_value"`
}

// BidDecision captures what to do and why.
type BidDecision struct {
	ShouldBid  bool     `json:"should_bid"`
	Amount     float64  `json:"amount"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
	Tag        PhaseTag `json:"phase_tag"`
	Phase      Phase    `json:"phase"`
	Signals    Signals  `json:"signals"`
}

// String implements fmt.Stringer for the tick log.
func (d BidDecision) String() string {
	if d.ShouldBid {
		return fmt.Sprintf("BID %.2f [%s/%s conf=%.2f] %s", d.Amount, d.Phase, d.Tag, d.Confidence, d.Reasoning)
	}
	return fmt.Sprintf("HOLD [%s/%s conf=%.2f] %s", d.Phase, d.Tag, d.Confidence, d.Reasoning)
}
