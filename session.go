// FILE: session.go
// Package main – Session registry: one live bidding session per lot.
//
// A Session bundles the engine, the broker handle and the last snapshot of
// one lot. The Registry maps lot IDs to sessions and hands callers the
// Session itself (carrying a uuid Ticket) so hot paths skip the map.
//
// Concurrency & Locks
//   • Registry.mu guards the map only; it is never held across I/O.
//   • Session.opMu serializes everything that talks to the broker (check,
//     bid, autopilot tick, close). Close takes it too, so it waits for an
//     in-flight tick instead of racing it.
//   • Session.mu guards the last snapshot and the closed flag; Evaluate only
//     needs its read side and never blocks on the network.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// BidOutcome is the result of a manual or recommended bid. It never carries
// a Go error; failures are described in Error.
type BidOutcome struct {
	Success   bool         `json:"success"`
	Amount    float64      `json:"amount,omitempty"`
	BidID     string       `json:"bid_id,omitempty"`
	TotalCost float64      `json:"total_cost,omitempty"`
	Error     string       `json:"error,omitempty"`
	Decision  *BidDecision `json:"decision,omitempty"`
}

// SessionSummary is a read-only view for operators.
type SessionSummary struct {
	Ticket         string          `json:"ticket"`
	AuctionID      string          `json:"auction_id"`
	Broker         string          `json:"broker"`
	Profile        string          `json:"profile"`
	MaxBid         float64         `json:"max_bid"`
	CostAtMaxBid   float64         `json:"cost_at_max_bid"`
	Aggressiveness float64         `json:"aggressiveness"`
	Sniping        bool            `json:"sniping"`
	SnipeWindowS   float64         `json:"snipe_window_s"`
	Autopilot      bool            `json:"autopilot"`
	BidsPlaced     int             `json:"bids_placed"`
	CreatedAt      time.Time       `json:"created_at"`
	Snapshot       AuctionSnapshot `json:"snapshot"`
}

// CloseReport describes what closing a session did.
type CloseReport struct {
	AuctionID            string  `json:"auction_id"`
	FeedbackApplied      bool    `json:"feedback_applied"`
	AggressivenessBefore float64 `json:"aggressiveness_before"`
	AggressivenessAfter  float64 `json:"aggressiveness_after"`
}

// Session is the live state of one lot.
type Session struct {
	Ticket    string
	AuctionID string
	CreatedAt time.Time

	engine   *Engine
	broker   Broker
	fees     FeeSchedule
	log      *slog.Logger
	clock    func() time.Time
	adaptive bool

	opMu sync.Mutex

	mu         sync.RWMutex
	last       AuctionSnapshot
	estimated  float64
	closed     bool
	bidsPlaced int

	autopilot atomic.Bool
	stopReq   atomic.Bool
	wake      chan struct{}
	run       atomic.Pointer[tickLog]
	lastRun   atomic.Pointer[AutopilotResult]
}

// LastSnapshot returns a copy of the most recent snapshot.
func (s *Session) LastSnapshot() AuctionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.clone()
}

func (s *Session) setLast(snap AuctionSnapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Config returns the session's current strategy.
func (s *Session) Config() StrategyConfig { return s.engine.Config() }

// Evaluate runs the engine on the last snapshot. It has no side effects.
func (s *Session) Evaluate() BidDecision {
	return s.engine.Evaluate(s.LastSnapshot())
}

// fetch pulls a fresh snapshot and fills in what the broker cannot know.
func (s *Session) fetch(ctx context.Context) (AuctionSnapshot, error) {
	s.mu.RLock()
	ev := s.estimated
	s.mu.RUnlock()

	snap, err := s.broker.GetSnapshot(ctx, s.AuctionID, ev)
	if err != nil {
		mtxSnapshotErrors.Inc()
		return AuctionSnapshot{}, &CollaboratorError{Op: "get_snapshot", Err: err}
	}
	return s.normalize(snap, ev), nil
}

func (s *Session) normalize(snap AuctionSnapshot, ev float64) AuctionSnapshot {
	if snap.AuctionID == "" {
		snap.AuctionID = s.AuctionID
	}
	if !(snap.EstimatedValue > 0) {
		snap.EstimatedValue = ev
	}
	if snap.TimeRemaining < 0 {
		snap.TimeRemaining = 0
	}
	if snap.CompetitorCount <= 0 {
		snap.CompetitorCount = competitorCount(snap.BidHistory)
	}
	snap.YourMaxBid = s.engine.Config().MaxBid
	return snap
}

// Check fetches a fresh snapshot, stores it and returns it with the decision.
func (s *Session) Check(ctx context.Context) (AuctionSnapshot, BidDecision, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return AuctionSnapshot{}, BidDecision{}, ErrSessionClosed
	}
	snap, err := s.fetch(ctx)
	if err != nil {
		return AuctionSnapshot{}, BidDecision{}, err
	}
	s.setLast(snap)
	d := s.engine.Evaluate(snap)
	mtxDecisions.WithLabelValues(string(d.Phase), string(d.Tag)).Inc()
	return snap.clone(), d, nil
}

// SubmitBid places either the engine's recommendation (amount == nil) or an
// explicit amount. Explicit amounts must lie in (currentPrice, maxBid] unless
// force is set.
func (s *Session) SubmitBid(ctx context.Context, amount *float64, force bool) BidOutcome {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.isClosed() {
		return BidOutcome{Error: ErrSessionClosed.Error()}
	}
	snap := s.LastSnapshot()
	cfg := s.engine.Config()

	var amt float64
	var dec *BidDecision
	switch {
	case amount == nil:
		d := s.engine.Evaluate(snap)
		dec = &d
		if !d.ShouldBid {
			return BidOutcome{Error: "engine recommends holding: " + d.Reasoning, Decision: dec}
		}
		amt = d.Amount
	case force:
		amt = roundCents(*amount)
		if !(amt > 0) {
			return BidOutcome{Error: "amount must be > 0"}
		}
		s.log.Warn("forced bid", "auction", s.AuctionID, "amount", amt, "max_bid", cfg.MaxBid)
	default:
		amt = roundCents(*amount)
		if amt > cfg.MaxBid {
			return BidOutcome{Error: fmt.Sprintf("amount %.2f exceeds max bid %.2f", amt, cfg.MaxBid)}
		}
		if amt <= snap.CurrentPrice {
			return BidOutcome{Error: fmt.Sprintf("amount %.2f does not exceed current price %.2f", amt, snap.CurrentPrice)}
		}
	}
	out := s.placeBid(ctx, amt)
	out.Decision = dec
	return out
}

// placeBid submits amt and records it on success. The caller holds opMu.
// Submission is detached from ctx cancellation: a bid in flight is never abandoned.
func (s *Session) placeBid(ctx context.Context, amt float64) BidOutcome {
	rec := s.broker.SubmitBid(context.WithoutCancel(ctx), s.AuctionID, amt)
	if !rec.Success {
		mtxBids.WithLabelValues("rejected").Inc()
		s.log.Warn("bid rejected", "auction", s.AuctionID, "amount", amt, "err", rec.Error)
		return BidOutcome{Amount: amt, Error: rec.Error}
	}
	mtxBids.WithLabelValues("placed").Inc()
	s.mu.Lock()
	s.last = s.last.withSelfBid(amt, s.clock().UTC())
	s.bidsPlaced++
	s.mu.Unlock()
	cost := s.fees.TotalCost(amt)
	s.log.Info("bid placed", "auction", s.AuctionID, "amount", amt, "total_cost", cost, "bid_id", rec.BidID)
	return BidOutcome{Success: true, Amount: amt, BidID: rec.BidID, TotalCost: cost}
}

// StopAutopilot requests a cooperative stop; it reports whether a run was active.
func (s *Session) StopAutopilot() bool {
	s.stopReq.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return s.autopilot.Load()
}

// TickLog returns the entries of the current (or last) autopilot run.
func (s *Session) TickLog() []TickEntry {
	if l := s.run.Load(); l != nil {
		return l.entries()
	}
	return nil
}

// LastRun returns the result of the last finished autopilot run, if any.
func (s *Session) LastRun() (AutopilotResult, bool) {
	if r := s.lastRun.Load(); r != nil {
		return *r, true
	}
	return AutopilotResult{}, false
}

func (s *Session) Summary() SessionSummary {
	cfg := s.engine.Config()
	s.mu.RLock()
	bids := s.bidsPlaced
	s.mu.RUnlock()
	return SessionSummary{
		Ticket:         s.Ticket,
		AuctionID:      s.AuctionID,
		Broker:         s.broker.Name(),
		Profile:        cfg.profile(),
		MaxBid:         cfg.MaxBid,
		CostAtMaxBid:   s.fees.TotalCost(cfg.MaxBid),
		Aggressiveness: cfg.Aggressiveness,
		Sniping:        cfg.Sniping,
		SnipeWindowS:   cfg.SnipeWindow.Seconds(),
		Autopilot:      s.autopilot.Load(),
		BidsPlaced:     bids,
		CreatedAt:      s.CreatedAt,
		Snapshot:       s.LastSnapshot(),
	}
}

// debrief derives post-auction feedback from the final snapshot.
func debrief(snap AuctionSnapshot, maxBid float64) Feedback {
	return Feedback{
		Won:        snap.Leading(),
		FinalPrice: snap.CurrentPrice,
		Efficiency: Efficiency(maxBid, snap.CurrentPrice),
	}
}

// ---- Registry ----

// RegistryOptions wires shared collaborators into every session.
type RegistryOptions struct {
	Store           *TuningStore // optional
	Fees            FeeSchedule
	Logger          *slog.Logger
	AdaptivePolling bool
	Clock           func() time.Time
}

// Registry owns every live session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     RegistryOptions
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{sessions: make(map[string]*Session), opts: opts}
}

// Initialize creates the session for auctionID. The broker is owned by the
// registry from this call on: it is released if initialization fails.
func (r *Registry) Initialize(ctx context.Context, auctionID string, cfg StrategyConfig, broker Broker, initial AuctionSnapshot) (*Session, error) {
	release := func(err error) (*Session, error) {
		if broker != nil {
			_ = broker.Close()
		}
		return nil, err
	}
	if broker == nil {
		return nil, &ConfigError{Field: "broker", Reason: "is nil"}
	}
	if auctionID == "" {
		return release(&ConfigError{Field: "auction_id", Reason: "is empty"})
	}
	ev := initial.EstimatedValue
	if !(ev > 0) {
		ev = cfg.TargetValue
	}
	if !(ev > 0) {
		return release(&ConfigError{Field: "estimated_value", Reason: "must be > 0"})
	}
	if r.opts.Store != nil && !cfg.AggressivenessPinned {
		if a, ok := r.opts.Store.Aggressiveness(cfg.profile()); ok {
			r.opts.Logger.Debug("learned aggressiveness applied", "auction", auctionID,
				"profile", cfg.profile(), "configured", cfg.Aggressiveness, "learned", a)
			cfg.Aggressiveness = a
		}
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		return release(err)
	}

	s := &Session{
		Ticket:    uuid.New().String(),
		AuctionID: auctionID,
		CreatedAt: r.opts.Clock().UTC(),
		engine:    eng,
		broker:    broker,
		fees:      r.opts.Fees,
		log:       r.opts.Logger.With("auction", auctionID),
		clock:     r.opts.Clock,
		adaptive:  r.opts.AdaptivePolling,
		estimated: ev,
		wake:      make(chan struct{}, 1),
	}
	initial.AuctionID = auctionID
	s.last = s.normalize(initial.clone(), ev)

	r.mu.Lock()
	if _, ok := r.sessions[auctionID]; ok {
		r.mu.Unlock()
		return release(fmt.Errorf("%w: %s", ErrSessionExists, auctionID))
	}
	r.sessions[auctionID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	mtxSessionsActive.Set(float64(n))
	SetAggressivenessMetric(cfg.profile(), cfg.Aggressiveness)
	s.log.Info("session initialized", "ticket", s.Ticket, "broker", broker.Name(),
		"max_bid", cfg.MaxBid, "estimated_value", ev, "aggressiveness", cfg.Aggressiveness)
	return s, nil
}

// Get returns the live session for auctionID.
func (r *Registry) Get(auctionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[auctionID]
	if !ok {
		return nil, unknownSession(auctionID)
	}
	return s, nil
}

// List returns summaries of every live session ordered by lot ID.
func (r *Registry) List() []SessionSummary {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].AuctionID < all[j].AuctionID })
	out := make([]SessionSummary, 0, len(all))
	for _, s := range all {
		out = append(out, s.Summary())
	}
	return out
}

func (r *Registry) Evaluate(auctionID string) (BidDecision, error) {
	s, err := r.Get(auctionID)
	if err != nil {
		return BidDecision{}, err
	}
	return s.Evaluate(), nil
}

func (r *Registry) Check(ctx context.Context, auctionID string) (AuctionSnapshot, BidDecision, error) {
	s, err := r.Get(auctionID)
	if err != nil {
		return AuctionSnapshot{}, BidDecision{}, err
	}
	return s.Check(ctx)
}

func (r *Registry) SubmitBid(ctx context.Context, auctionID string, amount *float64, force bool) BidOutcome {
	s, err := r.Get(auctionID)
	if err != nil {
		return BidOutcome{Error: err.Error()}
	}
	return s.SubmitBid(ctx, amount, force)
}

func (r *Registry) RunAutopilot(ctx context.Context, auctionID string, checkInterval, duration time.Duration) (AutopilotResult, error) {
	s, err := r.Get(auctionID)
	if err != nil {
		return AutopilotResult{}, err
	}
	return s.RunAutopilot(ctx, checkInterval, duration)
}

func (r *Registry) StopAutopilot(auctionID string) (bool, error) {
	s, err := r.Get(auctionID)
	if err != nil {
		return false, err
	}
	return s.StopAutopilot(), nil
}

// Close removes the session, waits for any in-flight tick, applies feedback
// (when given) and releases the broker.
func (r *Registry) Close(ctx context.Context, auctionID string, fb *Feedback) (CloseReport, error) {
	r.mu.Lock()
	s, ok := r.sessions[auctionID]
	if ok {
		delete(r.sessions, auctionID)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return CloseReport{}, unknownSession(auctionID)
	}
	mtxSessionsActive.Set(float64(n))

	s.StopAutopilot()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	rep := CloseReport{AuctionID: auctionID}
	rep.AggressivenessBefore = s.engine.Aggressiveness()
	rep.AggressivenessAfter = rep.AggressivenessBefore
	if fb != nil {
		cfg := s.engine.Config()
		rep.AggressivenessBefore, rep.AggressivenessAfter = s.engine.ApplyFeedback(*fb)
		rep.FeedbackApplied = true
		SetAggressivenessMetric(cfg.profile(), rep.AggressivenessAfter)
		if r.opts.Store != nil {
			if err := r.opts.Store.Record(cfg.profile(), *fb, rep.AggressivenessAfter); err != nil {
				s.log.Error("tuning state save failed", "err", err)
			}
		}
	}
	var err error
	if cerr := s.broker.Close(); cerr != nil {
		err = &CollaboratorError{Op: "close", Err: cerr}
	}
	s.log.Info("session closed", "feedback", rep.FeedbackApplied,
		"aggressiveness_before", rep.AggressivenessBefore, "aggressiveness_after", rep.AggressivenessAfter)
	return rep, err
}

// CloseAll closes every session without feedback (shutdown path).
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if _, err := r.Close(ctx, id, nil); err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.opts.Logger.Warn("close on shutdown", "auction", id, "err", err)
		}
	}
}
