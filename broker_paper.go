// FILE: broker_paper.go
// Package main – In-memory paper broker (no external calls).
//
// Each lot is simulated from the first snapshot request: it opens at
// StartPrice, closes Duration later, and a handful of rivals with private
// valuations around the estimate outbid the leader by the house increment
// whenever they still can. Bids placed here never leave the process.
//
// Methods:
//   • Name() string
//   • GetSnapshot(ctx, lot, estimatedValue) – advances the rival simulation one step
//   • SubmitBid(ctx, lot, amount)           – accepts any bid above the current price
//   • Close() error
//   • Lease(lot) Broker – per-session handle; the lot is forgotten once
//     every lease on it is closed, so a re-opened lot starts fresh
package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperOptions shapes the simulated lots.
type PaperOptions struct {
	StartPrice float64
	Duration   time.Duration
	Rivals     int
	Seed       int64
}

type paperLot struct {
	price  float64
	endsAt time.Time
	bids   []Bid
	caps   map[string]float64 // rival name → private valuation
}

// PaperBroker simulates lots in memory.
type PaperBroker struct {
	mu    sync.Mutex
	opts  PaperOptions
	rng   *rand.Rand
	lots  map[string]*paperLot
	refs  map[string]int // open leases per lot
	clock func() time.Time
}

func NewPaperBroker(opts PaperOptions) *PaperBroker {
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Minute
	}
	if opts.Rivals <= 0 {
		opts.Rivals = 3
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		lots:  make(map[string]*paperLot),
		refs:  make(map[string]int),
		clock: time.Now,
	}
}

func (p *PaperBroker) Name() string { return "paper" }

// lotLocked returns the simulated lot, opening it on first use.
func (p *PaperBroker) lotLocked(id string, estimatedValue float64) *paperLot {
	if l, ok := p.lots[id]; ok {
		return l
	}
	start := p.opts.StartPrice
	if start <= 0 {
		start = roundCents(estimatedValue * 0.3)
	}
	l := &paperLot{
		price:  start,
		endsAt: p.clock().Add(p.opts.Duration),
		caps:   make(map[string]float64, p.opts.Rivals),
	}
	for i := 0; i < p.opts.Rivals; i++ {
		l.caps[fmt.Sprintf("rival-%d", i+1)] = roundCents(estimatedValue * (0.7 + 0.4*p.rng.Float64()))
	}
	p.lots[id] = l
	return l
}

// stepRivalsLocked lets at most one rival outbid the current leader.
func (p *PaperBroker) stepRivalsLocked(l *paperLot, now time.Time) {
	if !now.Before(l.endsAt) || p.rng.Float64() > 0.35 {
		return
	}
	next := l.price + minIncrement(l.price)
	var leader string
	if n := len(l.bids); n > 0 {
		leader = l.bids[n-1].Bidder
	}
	var willing []string
	for name, limit := range l.caps {
		if name != leader && limit >= next {
			willing = append(willing, name)
		}
	}
	if len(willing) == 0 {
		return
	}
	// map order is random; pick deterministically from the seeded source
	sort.Strings(willing)
	who := willing[p.rng.Intn(len(willing))]
	l.price = next
	l.bids = append(l.bids, Bid{Time: now, Amount: next, Bidder: who})
}

func (p *PaperBroker) GetSnapshot(ctx context.Context, auctionID string, estimatedValue float64) (AuctionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return AuctionSnapshot{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()
	l := p.lotLocked(auctionID, estimatedValue)
	p.stepRivalsLocked(l, now)

	remaining := l.endsAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	hist := append([]Bid(nil), l.bids...)
	return AuctionSnapshot{
		AuctionID:       auctionID,
		Title:           "paper lot " + auctionID,
		CurrentPrice:    l.price,
		TimeRemaining:   remaining,
		BidHistory:      hist,
		EstimatedValue:  estimatedValue,
		CompetitorCount: competitorCount(hist),
	}, nil
}

// SubmitBid accepts any bid strictly above the current price of an open lot.
func (p *PaperBroker) SubmitBid(ctx context.Context, auctionID string, amount float64) BidReceipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.lots[auctionID]
	if !ok {
		return BidReceipt{Error: "unknown lot " + auctionID}
	}
	now := p.clock()
	if !now.Before(l.endsAt) {
		return BidReceipt{Error: "auction closed"}
	}
	if amount <= l.price {
		return BidReceipt{Error: fmt.Sprintf("bid %.2f must exceed current price %.2f", amount, l.price)}
	}
	l.price = amount
	l.bids = append(l.bids, Bid{Time: now, Amount: amount, Bidder: SelfBidder, Self: true})
	return BidReceipt{Success: true, BidID: uuid.New().String()}
}

func (p *PaperBroker) Close() error { return nil }

// Lease returns a handle on lot for one session. Closing the last lease on
// a lot drops its simulation.
func (p *PaperBroker) Lease(lot string) Broker {
	p.mu.Lock()
	p.refs[lot]++
	p.mu.Unlock()
	return &paperLease{PaperBroker: p, lot: lot}
}

func (p *PaperBroker) release(lot string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs[lot]--; p.refs[lot] > 0 {
		return
	}
	delete(p.refs, lot)
	delete(p.lots, lot)
}

type paperLease struct {
	*PaperBroker
	lot  string
	once sync.Once
}

func (l *paperLease) Close() error {
	l.once.Do(func() { l.release(l.lot) })
	return nil
}
