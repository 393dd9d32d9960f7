package main

import (
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func baseConfig() StrategyConfig {
	return StrategyConfig{MaxBid: 1000, TargetValue: 1200, Aggressiveness: 0.5}
}

func TestSelectPhaseBoundaries(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		sniping   bool
		expected  Phase
	}{
		{"ten minutes", 10 * time.Minute, false, PhaseExploration},
		{"just over five minutes", 301 * time.Second, false, PhaseExploration},
		{"exactly five minutes is contested", 300 * time.Second, false, PhaseContested},
		{"two minutes", 120 * time.Second, false, PhaseContested},
		{"just over one minute", 61 * time.Second, false, PhaseContested},
		{"exactly one minute is terminal", 60 * time.Second, false, PhaseTerminal},
		{"ten seconds", 10 * time.Second, false, PhaseTerminal},
		{"inside snipe window", 12 * time.Second, true, PhaseSnipe},
		{"at snipe window edge", 15 * time.Second, true, PhaseSnipe},
		{"outside snipe window", 16 * time.Second, true, PhaseTerminal},
		{"snipe window does not apply when off", 5 * time.Second, false, PhaseTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Sniping = tt.sniping
			cfg.SnipeWindow = 15 * time.Second
			check.Equal(t, tt.expected, selectPhase(AuctionSnapshot{TimeRemaining: tt.remaining}, cfg))
		})
	}
}

func TestEvaluateExplorationAnchor(t *testing.T) {
	s := AuctionSnapshot{
		CurrentPrice:   500,
		EstimatedValue: 1200,
		TimeRemaining:  600 * time.Second,
		BidHistory:     rivalBids(450, 500),
	}
	d := evaluate(s, baseConfig())
	check.True(t, d.ShouldBid)
	check.Equal(t, 525.0, d.Amount)
	check.Equal(t, PhaseExploration, d.Phase)
	check.Equal(t, TagInitiative, d.Tag)
	check.NotEqual(t, "", d.Reasoning)
}

func TestEvaluateExploration(t *testing.T) {
	t.Run("leading holds", func(t *testing.T) {
		s := AuctionSnapshot{CurrentPrice: 500, EstimatedValue: 1200, TimeRemaining: time.Hour, BidHistory: []Bid{selfBid(500)}}
		d := evaluate(s, baseConfig())
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.9, d.Confidence)
		check.Equal(t, TagHold, d.Tag)
		check.Equal(t, "holding lead, no action needed", d.Reasoning)
	})
	t.Run("price not attractive", func(t *testing.T) {
		s := AuctionSnapshot{CurrentPrice: 800, EstimatedValue: 1200, TimeRemaining: time.Hour, BidHistory: rivalBids(800)}
		d := evaluate(s, baseConfig())
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.8, d.Confidence)
		check.Equal(t, TagYield, d.Tag)
		check.Equal(t, "price not attractive enough", d.Reasoning)
	})
	t.Run("anchor capped at max bid", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxBid = 510
		d := evaluate(AuctionSnapshot{CurrentPrice: 500, EstimatedValue: 1200, TimeRemaining: time.Hour}, cfg)
		check.True(t, d.ShouldBid)
		check.Equal(t, 510.0, d.Amount)
	})
	t.Run("max bid at price turns into a hold", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxBid = 500
		d := evaluate(AuctionSnapshot{CurrentPrice: 500, EstimatedValue: 1200, TimeRemaining: time.Hour}, cfg)
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.0, d.Amount)
		check.Equal(t, "max bid reached", d.Reasoning)
	})
}

func TestEvaluateTerminalHoldWhileLeading(t *testing.T) {
	s := AuctionSnapshot{
		CurrentPrice:   850,
		EstimatedValue: 1200,
		TimeRemaining:  60 * time.Second,
		BidHistory:     []Bid{selfBid(850)},
	}
	d := evaluate(s, baseConfig())
	check.False(t, d.ShouldBid)
	check.Equal(t, PhaseTerminal, d.Phase)
	check.Equal(t, 0.95, d.Confidence)
	check.Equal(t, TagHold, d.Tag)
}

func TestEvaluateContestedHoldWhileLeading(t *testing.T) {
	// 120s is contested: leading with little initiative holds at 0.85.
	s := AuctionSnapshot{
		CurrentPrice:   850,
		EstimatedValue: 1200,
		TimeRemaining:  120 * time.Second,
		BidHistory:     []Bid{selfBid(850)},
	}
	d := evaluate(s, baseConfig())
	check.False(t, d.ShouldBid)
	check.Equal(t, PhaseContested, d.Phase)
	check.Equal(t, 0.85, d.Confidence)
	check.Equal(t, TagHold, d.Tag)
}

func TestEvaluateSnipe(t *testing.T) {
	cfg := baseConfig()
	cfg.Sniping = true
	cfg.SnipeWindow = 15 * time.Second
	s := AuctionSnapshot{CurrentPrice: 900, EstimatedValue: 1200, TimeRemaining: 12 * time.Second, BidHistory: rivalBids(900)}

	d := evaluate(s, cfg)
	check.True(t, d.ShouldBid)
	check.Equal(t, 1000.0, d.Amount)
	check.Equal(t, PhaseSnipe, d.Phase)
	check.Equal(t, TagTerminal, d.Tag)
	check.Equal(t, 0.85, d.Confidence)

	cfg.MaxBid = 1500
	d = evaluate(s, cfg)
	check.Equal(t, 1200.0, d.Amount)

	s.BidHistory = []Bid{selfBid(900)}
	d = evaluate(s, cfg)
	check.False(t, d.ShouldBid)
	check.Equal(t, 0.95, d.Confidence)
	check.Equal(t, "holding winning position", d.Reasoning)
}

func TestEvaluateContestedOverMaxBid(t *testing.T) {
	s := AuctionSnapshot{CurrentPrice: 1100, EstimatedValue: 1200, TimeRemaining: 180 * time.Second, BidHistory: rivalBids(1100)}
	d := evaluate(s, baseConfig())
	check.False(t, d.ShouldBid)
	check.Equal(t, PhaseContested, d.Phase)
	check.Equal(t, 0.7, d.Confidence)
	check.Equal(t, "price too high or max bid reached", d.Reasoning)
	check.Equal(t, TagYield, d.Tag)
}

func TestEvaluateContestedEscalation(t *testing.T) {
	cfg := baseConfig()
	cfg.Aggressiveness = 0.8
	s := AuctionSnapshot{
		CurrentPrice:    800,
		EstimatedValue:  1200,
		TimeRemaining:   120 * time.Second,
		BidHistory:      rivalBids(600, 650, 700, 750, 800),
		CompetitorCount: 5,
	}
	d := evaluate(s, cfg)
	assert.True(t, d.ShouldBid)
	check.Equal(t, TagInitiative, d.Tag)
	// iv = 0.4 + 0.3·(1/3) + 0.3·0.6 = 0.68; inc = 40·(1+0.68·0.8)
	check.True(t, d.Amount > 861.75 && d.Amount < 861.77)
	checkApprox(t, 0.6+0.3*d.Signals.InitiativeValue, d.Confidence)

	t.Run("leading but worth the fight keeps escalating", func(t *testing.T) {
		lead := s.clone()
		lead.BidHistory = append(lead.BidHistory, selfBid(800))
		d := evaluate(lead, cfg)
		check.True(t, d.ShouldBid)
	})
	t.Run("timid config does not fight while leading", func(t *testing.T) {
		lead := s.clone()
		lead.BidHistory = append(lead.BidHistory, selfBid(800))
		timid := cfg
		timid.Aggressiveness = 0.5
		d := evaluate(lead, timid)
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.85, d.Confidence)
	})
}

func TestEvaluateTerminal(t *testing.T) {
	t.Run("final push", func(t *testing.T) {
		s := AuctionSnapshot{CurrentPrice: 900, EstimatedValue: 1200, TimeRemaining: 30 * time.Second, BidHistory: rivalBids(900)}
		d := evaluate(s, baseConfig())
		check.True(t, d.ShouldBid)
		check.Equal(t, 990.0, d.Amount)
		check.Equal(t, 0.8, d.Confidence)
		check.Equal(t, TagTerminal, d.Tag)
	})
	t.Run("max bid already reached", func(t *testing.T) {
		s := AuctionSnapshot{CurrentPrice: 1000, EstimatedValue: 1200, TimeRemaining: 30 * time.Second, BidHistory: rivalBids(1000)}
		d := evaluate(s, baseConfig())
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.9, d.Confidence)
	})
	t.Run("price over value", func(t *testing.T) {
		cfg := baseConfig()
		cfg.MaxBid = 2000
		s := AuctionSnapshot{CurrentPrice: 1300, EstimatedValue: 1200, TimeRemaining: 30 * time.Second, BidHistory: rivalBids(1300)}
		d := evaluate(s, cfg)
		check.False(t, d.ShouldBid)
		check.Equal(t, "price exceeded value threshold", d.Reasoning)
	})
	t.Run("leading under pressure still pushes", func(t *testing.T) {
		h := append(rivalBids(800, 820, 840, 860), selfBid(880))
		s := AuctionSnapshot{CurrentPrice: 880, EstimatedValue: 1200, TimeRemaining: 30 * time.Second, BidHistory: h}
		d := evaluate(s, baseConfig())
		check.True(t, d.Signals.BidPressure >= 0.7)
		check.True(t, d.ShouldBid)
	})
}

func TestEvaluateWithoutOpeningPrice(t *testing.T) {
	for _, tr := range []time.Duration{time.Hour, 180 * time.Second, 45 * time.Second} {
		s := AuctionSnapshot{CurrentPrice: 0, EstimatedValue: 1200, TimeRemaining: tr}
		d := evaluate(s, baseConfig())
		check.False(t, d.ShouldBid)
		check.Equal(t, 0.0, d.Amount)
		check.Equal(t, "no price to increment from", d.Reasoning)
	}
}

func TestEvaluateUnusableEstimate(t *testing.T) {
	for _, ev := range []float64{0, -100} {
		s := AuctionSnapshot{CurrentPrice: 500, EstimatedValue: ev, TimeRemaining: time.Hour}
		d := evaluate(s, baseConfig())
		check.Equal(t, 1.0, d.Signals.ValueRatio)
		check.False(t, d.ShouldBid)
	}
}

func TestEvaluateAmountBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.Sniping = true
	cfg.SnipeWindow = 20 * time.Second
	prices := []float64{0, 1, 100, 499.99, 800, 950, 999.99, 1000, 1150, 1500}
	times := []time.Duration{0, 5 * time.Second, 20 * time.Second, 45 * time.Second, 60 * time.Second, 90 * time.Second, 299 * time.Second, 300 * time.Second, time.Hour}
	aggr := []float64{0, 0.3, 0.51, 1}
	histories := [][]Bid{nil, rivalBids(10, 20, 30, 40, 50), {selfBid(10)}}
	for _, p := range prices {
		for _, tr := range times {
			for _, a := range aggr {
				for _, h := range histories {
					c := cfg
					c.Aggressiveness = a
					s := AuctionSnapshot{CurrentPrice: p, EstimatedValue: 1200, TimeRemaining: tr, BidHistory: h, CompetitorCount: competitorCount(h)}
					d := evaluate(s, c)
					check.NotEqual(t, "", d.Reasoning)
					check.True(t, d.Confidence >= 0 && d.Confidence <= 1)
					if d.ShouldBid {
						check.True(t, d.Amount <= c.MaxBid)
						check.True(t, d.Amount > p)
					}
				}
			}
		}
	}
}

func TestEngineEvaluateIsPure(t *testing.T) {
	e, err := NewEngine(baseConfig())
	assert.NoError(t, err)
	s := AuctionSnapshot{CurrentPrice: 500, EstimatedValue: 1200, TimeRemaining: 600 * time.Second, BidHistory: rivalBids(450, 500)}
	before := s.clone()

	d1 := e.Evaluate(s)
	d2 := e.Evaluate(s)
	check.Equal(t, d1, d2)
	check.Equal(t, before, s)
	check.Equal(t, baseConfig(), e.Config())
}

func TestNewEngineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   StrategyConfig
		field string
	}{
		{"no max bid", StrategyConfig{Aggressiveness: 0.5}, "max_bid"},
		{"aggressiveness above one", StrategyConfig{MaxBid: 10, Aggressiveness: 1.5}, "aggressiveness"},
		{"negative snipe window", StrategyConfig{MaxBid: 10, SnipeWindow: -time.Second}, "snipe_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg)
			check.Error(t, err)
			cfgErr, ok := err.(*ConfigError)
			assert.True(t, ok)
			check.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestApplyFeedback(t *testing.T) {
	tests := []struct {
		name     string
		start    float64
		fb       Feedback
		expected float64
	}{
		{"efficient win cools down", 0.7, Feedback{Won: true, FinalPrice: 80, Efficiency: 0.92}, 0.65},
		{"cooling stops at the floor", 0.32, Feedback{Won: true, Efficiency: 0.95}, 0.3},
		{"below the floor is left alone", 0.2, Feedback{Won: true, Efficiency: 0.95}, 0.2},
		{"ordinary win changes nothing", 0.7, Feedback{Won: true, Efficiency: 0.5}, 0.7},
		{"cheap loss heats up", 0.5, Feedback{Won: false, FinalPrice: 900}, 0.6},
		{"heating caps at one", 0.95, Feedback{Won: false, FinalPrice: 900}, 1.0},
		{"loss above max bid changes nothing", 0.5, Feedback{Won: false, FinalPrice: 1100}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Aggressiveness = tt.start
			e, err := NewEngine(cfg)
			assert.NoError(t, err)
			before, after := e.ApplyFeedback(tt.fb)
			check.Equal(t, tt.start, before)
			checkApprox(t, tt.expected, after)
			checkApprox(t, tt.expected, e.Aggressiveness())
		})
	}
}

func TestEfficiency(t *testing.T) {
	checkApprox(t, 0.12, Efficiency(1000, 880))
	check.Equal(t, 0.0, Efficiency(0, 880))
}

func TestDecisionString(t *testing.T) {
	d := BidDecision{ShouldBid: true, Amount: 525, Phase: PhaseExploration, Tag: TagInitiative, Confidence: 0.7, Reasoning: "anchor"}
	check.True(t, strings.HasPrefix(d.String(), "BID 525.00"))
	d = BidDecision{Phase: PhaseTerminal, Tag: TagHold, Confidence: 0.95, Reasoning: "leading"}
	check.True(t, strings.HasPrefix(d.String(), "HOLD"))
}
