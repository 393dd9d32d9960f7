package main

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"
)

func checkApprox(t *testing.T, want, got float64) {
	t.Helper()
	if math.Abs(want-got) > 1e-9 {
		t.Errorf("want %v, got %v", want, got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(store *TuningStore) *Registry {
	return NewRegistry(RegistryOptions{
		Store:  store,
		Fees:   FeeSchedule{RatePct: 9, Fixed: 3},
		Logger: discardLogger(),
	})
}

func rivalBids(amounts ...float64) []Bid {
	out := make([]Bid, 0, len(amounts))
	for i, a := range amounts {
		out = append(out, Bid{Amount: a, Bidder: "rival-" + string(rune('a'+i))})
	}
	return out
}

func selfBid(amount float64) Bid {
	return Bid{Amount: amount, Bidder: SelfBidder, Self: true}
}

// scriptedBroker serves snapshots in order (the last one repeats) and
// records every bid it receives.
type scriptedBroker struct {
	mu     sync.Mutex
	snaps  []AuctionSnapshot
	errs   map[int]error // snapshot call index → error
	calls  int
	bids   []float64
	reject string
	closed int

	entered chan struct{} // signalled on each GetSnapshot, if set
	release chan struct{} // GetSnapshot blocks on it, if set
}

func (b *scriptedBroker) Name() string { return "scripted" }

func (b *scriptedBroker) GetSnapshot(ctx context.Context, auctionID string, estimatedValue float64) (AuctionSnapshot, error) {
	if b.entered != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
	}
	if b.release != nil {
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.calls
	b.calls++
	if err, ok := b.errs[i]; ok {
		return AuctionSnapshot{}, err
	}
	if len(b.snaps) == 0 {
		return AuctionSnapshot{AuctionID: auctionID, TimeRemaining: time.Hour}, nil
	}
	if i >= len(b.snaps) {
		i = len(b.snaps) - 1
	}
	return b.snaps[i].clone(), nil
}

func (b *scriptedBroker) SubmitBid(ctx context.Context, auctionID string, amount float64) BidReceipt {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = append(b.bids, amount)
	if b.reject != "" {
		return BidReceipt{Error: b.reject}
	}
	return BidReceipt{Success: true, BidID: "bid-1"}
}

func (b *scriptedBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

func (b *scriptedBroker) snapshotCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *scriptedBroker) placed() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.bids...)
}

func (b *scriptedBroker) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
