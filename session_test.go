package main

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func explorationSnap() AuctionSnapshot {
	return AuctionSnapshot{
		CurrentPrice:   500,
		EstimatedValue: 1200,
		TimeRemaining:  600 * time.Second,
		BidHistory:     rivalBids(450, 500),
	}
}

func TestInitializeValidation(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)

	_, err := reg.Initialize(ctx, "lot-1", baseConfig(), nil, explorationSnap())
	var cfgErr *ConfigError
	check.True(t, errors.As(err, &cfgErr))

	t.Run("bad config releases the broker", func(t *testing.T) {
		b := &scriptedBroker{}
		cfg := baseConfig()
		cfg.MaxBid = 0
		_, err := reg.Initialize(ctx, "lot-1", cfg, b, explorationSnap())
		check.True(t, errors.As(err, &cfgErr))
		check.Equal(t, "max_bid", cfgErr.Field)
		check.Equal(t, 1, b.closeCount())
	})
	t.Run("empty auction id", func(t *testing.T) {
		b := &scriptedBroker{}
		_, err := reg.Initialize(ctx, "", baseConfig(), b, explorationSnap())
		check.True(t, errors.As(err, &cfgErr))
		check.Equal(t, 1, b.closeCount())
	})
	t.Run("no usable estimated value", func(t *testing.T) {
		b := &scriptedBroker{}
		cfg := baseConfig()
		cfg.TargetValue = 0
		snap := explorationSnap()
		snap.EstimatedValue = 0
		_, err := reg.Initialize(ctx, "lot-1", cfg, b, snap)
		check.True(t, errors.As(err, &cfgErr))
		check.Equal(t, "estimated_value", cfgErr.Field)
	})
	t.Run("target value fills a missing estimate", func(t *testing.T) {
		snap := explorationSnap()
		snap.EstimatedValue = 0
		s, err := reg.Initialize(ctx, "lot-ev", baseConfig(), &scriptedBroker{}, snap)
		assert.NoError(t, err)
		check.Equal(t, 1200.0, s.LastSnapshot().EstimatedValue)
	})
	check.Equal(t, 1, len(reg.List()))
}

func TestInitializeDuplicate(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	first := &scriptedBroker{}
	s1, err := reg.Initialize(ctx, "lot-1", baseConfig(), first, explorationSnap())
	assert.NoError(t, err)

	second := &scriptedBroker{}
	_, err = reg.Initialize(ctx, "lot-1", baseConfig(), second, explorationSnap())
	check.True(t, errors.Is(err, ErrSessionExists))
	check.Equal(t, 1, second.closeCount())
	check.Equal(t, 0, first.closeCount())

	got, err := reg.Get("lot-1")
	assert.NoError(t, err)
	check.Equal(t, s1.Ticket, got.Ticket)
	check.NotEqual(t, "", got.Ticket)
}

func TestRegistryUnknownLot(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)

	_, err := reg.Get("nope")
	check.True(t, errors.Is(err, ErrSessionNotFound))
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	check.Equal(t, "auction_id", cfgErr.Field)
	check.Equal(t, `config: auction_id "nope": session not found`, err.Error())
	_, err = reg.Evaluate("nope")
	check.True(t, errors.Is(err, ErrSessionNotFound))
	_, _, err = reg.Check(ctx, "nope")
	check.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = reg.Close(ctx, "nope", nil)
	check.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = reg.RunAutopilot(ctx, "nope", 0, 0)
	check.True(t, errors.Is(err, ErrSessionNotFound))
	out := reg.SubmitBid(ctx, "nope", nil, false)
	check.False(t, out.Success)
	check.True(t, strings.Contains(out.Error, "not found"))
}

func TestSessionEvaluateUsesLastSnapshot(t *testing.T) {
	reg := newTestRegistry(nil)
	s, err := reg.Initialize(context.Background(), "lot-1", baseConfig(), &scriptedBroker{}, explorationSnap())
	assert.NoError(t, err)

	d, err := reg.Evaluate("lot-1")
	assert.NoError(t, err)
	check.True(t, d.ShouldBid)
	check.Equal(t, 525.0, d.Amount)
	check.Equal(t, 1000.0, s.LastSnapshot().YourMaxBid)
	check.Equal(t, 2, s.LastSnapshot().CompetitorCount)
}

func TestSessionCheck(t *testing.T) {
	b := &scriptedBroker{snaps: []AuctionSnapshot{{
		CurrentPrice:  900,
		TimeRemaining: 30 * time.Second,
		BidHistory:    rivalBids(850, 900),
	}}}
	reg := newTestRegistry(nil)
	s, err := reg.Initialize(context.Background(), "lot-1", baseConfig(), b, explorationSnap())
	assert.NoError(t, err)

	snap, d, err := s.Check(context.Background())
	assert.NoError(t, err)
	check.Equal(t, "lot-1", snap.AuctionID)
	check.Equal(t, 1200.0, snap.EstimatedValue)
	check.Equal(t, PhaseTerminal, d.Phase)
	check.Equal(t, 990.0, d.Amount)
	check.Equal(t, 900.0, s.LastSnapshot().CurrentPrice)

	t.Run("broker failure is a collaborator error", func(t *testing.T) {
		b.errs = map[int]error{b.snapshotCalls(): errors.New("timeout")}
		_, _, err := s.Check(context.Background())
		var ce *CollaboratorError
		check.True(t, errors.As(err, &ce))
		check.Equal(t, "get_snapshot", ce.Op)
		check.Equal(t, 900.0, s.LastSnapshot().CurrentPrice)
	})
}

func TestSubmitBid(t *testing.T) {
	ctx := context.Background()
	amount := func(v float64) *float64 { return &v }

	t.Run("recommended bid", func(t *testing.T) {
		b := &scriptedBroker{}
		reg := newTestRegistry(nil)
		s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
		assert.NoError(t, err)

		out := s.SubmitBid(ctx, nil, false)
		assert.True(t, out.Success)
		check.Equal(t, 525.0, out.Amount)
		check.Equal(t, "bid-1", out.BidID)
		check.Equal(t, 575.25, out.TotalCost)
		check.NotNil(t, out.Decision)
		check.Equal(t, []float64{525}, b.placed())

		last := s.LastSnapshot()
		check.True(t, last.Leading())
		check.Equal(t, 525.0, last.CurrentPrice)
		check.Equal(t, 1, s.Summary().BidsPlaced)

		// leading in exploration: the engine now holds
		out = s.SubmitBid(ctx, nil, false)
		check.False(t, out.Success)
		check.True(t, strings.HasPrefix(out.Error, "engine recommends holding"))
		check.Equal(t, 1, len(b.placed()))
	})

	t.Run("explicit amounts are bounded", func(t *testing.T) {
		b := &scriptedBroker{}
		reg := newTestRegistry(nil)
		s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
		assert.NoError(t, err)

		out := s.SubmitBid(ctx, amount(1000.01), false)
		check.False(t, out.Success)
		check.True(t, strings.Contains(out.Error, "exceeds max bid"))

		out = s.SubmitBid(ctx, amount(500), false)
		check.False(t, out.Success)
		check.True(t, strings.Contains(out.Error, "does not exceed current price"))
		check.Equal(t, 0, len(b.placed()))

		out = s.SubmitBid(ctx, amount(600.004), false)
		check.True(t, out.Success)
		check.Equal(t, 600.0, out.Amount)
	})

	t.Run("force bypasses the bounds", func(t *testing.T) {
		b := &scriptedBroker{}
		reg := newTestRegistry(nil)
		s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
		assert.NoError(t, err)

		out := s.SubmitBid(ctx, amount(1100), true)
		check.True(t, out.Success)
		check.Equal(t, []float64{1100}, b.placed())

		out = s.SubmitBid(ctx, amount(-5), true)
		check.False(t, out.Success)
	})

	t.Run("rejection is reported, not recorded", func(t *testing.T) {
		b := &scriptedBroker{reject: "outbid"}
		reg := newTestRegistry(nil)
		s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
		assert.NoError(t, err)

		out := s.SubmitBid(ctx, nil, false)
		check.False(t, out.Success)
		check.Equal(t, "outbid", out.Error)
		check.False(t, s.LastSnapshot().Leading())
		check.Equal(t, 0, s.Summary().BidsPlaced)
	})

	t.Run("canceled context still submits", func(t *testing.T) {
		b := &scriptedBroker{}
		reg := newTestRegistry(nil)
		s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
		assert.NoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		out := s.SubmitBid(cctx, nil, false)
		check.True(t, out.Success)
	})
}

func TestCloseAppliesFeedback(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tuning.json")
	store, err := OpenTuningStore(path, true)
	assert.NoError(t, err)
	reg := newTestRegistry(store)

	b := &scriptedBroker{}
	cfg := baseConfig()
	cfg.Aggressiveness = 0.7
	s, err := reg.Initialize(ctx, "lot-1", cfg, b, explorationSnap())
	assert.NoError(t, err)

	rep, err := reg.Close(ctx, "lot-1", &Feedback{Won: true, FinalPrice: 80, Efficiency: 0.92})
	assert.NoError(t, err)
	check.True(t, rep.FeedbackApplied)
	check.Equal(t, 0.7, rep.AggressivenessBefore)
	checkApprox(t, 0.65, rep.AggressivenessAfter)
	check.Equal(t, 1, b.closeCount())

	_, err = reg.Get("lot-1")
	check.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = reg.Close(ctx, "lot-1", nil)
	check.True(t, errors.Is(err, ErrSessionNotFound))

	// the detached handle refuses further work
	out := s.SubmitBid(ctx, nil, false)
	check.Equal(t, ErrSessionClosed.Error(), out.Error)
	_, _, err = s.Check(ctx)
	check.True(t, errors.Is(err, ErrSessionClosed))
	_, err = s.RunAutopilot(ctx, 0, 0)
	check.True(t, errors.Is(err, ErrSessionClosed))

	t.Run("learned aggressiveness carries into new sessions", func(t *testing.T) {
		reopened, err := OpenTuningStore(path, true)
		assert.NoError(t, err)
		a, ok := reopened.Aggressiveness("default")
		assert.True(t, ok)
		checkApprox(t, 0.65, a)

		reg2 := newTestRegistry(reopened)
		s2, err := reg2.Initialize(ctx, "lot-2", cfg, &scriptedBroker{}, explorationSnap())
		assert.NoError(t, err)
		checkApprox(t, 0.65, s2.Config().Aggressiveness)
	})
	t.Run("operator-pinned aggressiveness is kept", func(t *testing.T) {
		reopened, err := OpenTuningStore(path, true)
		assert.NoError(t, err)
		pinned := cfg
		pinned.Aggressiveness = 0.3
		pinned.AggressivenessPinned = true

		reg2 := newTestRegistry(reopened)
		s2, err := reg2.Initialize(ctx, "lot-3", pinned, &scriptedBroker{}, explorationSnap())
		assert.NoError(t, err)
		check.Equal(t, 0.3, s2.Config().Aggressiveness)
	})
}

func TestCloseWithoutFeedback(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	_, err := reg.Initialize(ctx, "lot-1", baseConfig(), &scriptedBroker{}, explorationSnap())
	assert.NoError(t, err)
	rep, err := reg.Close(ctx, "lot-1", nil)
	assert.NoError(t, err)
	check.False(t, rep.FeedbackApplied)
	check.Equal(t, rep.AggressivenessBefore, rep.AggressivenessAfter)
}

func TestCloseWaitsForInFlightTick(t *testing.T) {
	ctx := context.Background()
	b := &scriptedBroker{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		snaps:   []AuctionSnapshot{{CurrentPrice: 500, TimeRemaining: time.Hour}},
	}
	reg := newTestRegistry(nil)
	s, err := reg.Initialize(ctx, "lot-1", baseConfig(), b, explorationSnap())
	assert.NoError(t, err)

	checked := make(chan error, 1)
	go func() {
		_, _, err := s.Check(ctx)
		checked <- err
	}()
	<-b.entered

	closed := make(chan struct{})
	go func() {
		_, _ = reg.Close(ctx, "lot-1", nil)
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a check was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(b.release)
	<-closed
	check.NoError(t, <-checked)
	check.Equal(t, 1, b.closeCount())
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(nil)
	brokers := []*scriptedBroker{{}, {}, {}}
	for i, b := range brokers {
		_, err := reg.Initialize(ctx, "lot-"+string(rune('a'+i)), baseConfig(), b, explorationSnap())
		assert.NoError(t, err)
	}
	list := reg.List()
	assert.Equal(t, 3, len(list))
	check.Equal(t, "lot-a", list[0].AuctionID)
	check.Equal(t, 1093.0, list[0].CostAtMaxBid)

	reg.CloseAll(ctx)
	check.Equal(t, 0, len(reg.List()))
	for _, b := range brokers {
		check.Equal(t, 1, b.closeCount())
	}
}

func TestDebrief(t *testing.T) {
	won := debrief(AuctionSnapshot{CurrentPrice: 880, BidHistory: []Bid{selfBid(880)}}, 1000)
	check.True(t, won.Won)
	check.Equal(t, 880.0, won.FinalPrice)
	checkApprox(t, 0.12, won.Efficiency)

	lost := debrief(AuctionSnapshot{CurrentPrice: 950, BidHistory: rivalBids(950)}, 1000)
	check.False(t, lost.Won)
}
