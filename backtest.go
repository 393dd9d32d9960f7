// FILE: backtest.go
// Package main – Replay of a recorded auction through the control loop.
//
// What’s here:
//   • loadReplayCSV(path) -> []replayRow : reads time_remaining_s, price, bidder
//   • ReplayBroker                         : a Broker serving one row per snapshot
//   • runReplay(ctx, ...)                  : session + autopilot + debrief, prints the battle log
//
// Notes:
//   • Headers are case-insensitive; unknown columns are ignored.
//   • A row with an empty bidder only advances the clock.
//   • A recorded rival bid at or below the current price is treated as outbid by us.

package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type replayRow struct {
	Remaining time.Duration
	Price     float64
	Bidder    string
}

// loadReplayCSV reads a recorded auction with headers:
// time_remaining_s|remaining, price|amount, bidder
func loadReplayCSV(path string) ([]replayRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readReplayCSV(f)
}

func readReplayCSV(in io.Reader) ([]replayRow, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	var out []replayRow
	var headers []string
	rowIdx := 0

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIdx == 0 {
			headers = rec
			rowIdx++
			continue
		}
		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		ts := first(row, "time_remaining_s", "remaining", "time_remaining")
		ps := first(row, "price", "amount")
		if ts == "" {
			continue
		}
		secs, err := strconv.ParseFloat(ts, 64)
		if err != nil {
			continue
		}
		price, _ := strconv.ParseFloat(ps, 64)
		out = append(out, replayRow{Remaining: seconds(secs), Price: price, Bidder: first(row, "bidder", "user")})
		rowIdx++
	}

	sortReplayRows(out)
	return out, nil
}

// sortReplayRows orders rows from the most to the least remaining time.
func sortReplayRows(rows []replayRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Remaining > rows[j].Remaining })
}

// parseTimeFlexible supports RFC3339 or UNIX seconds.
func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

// first returns the first non-empty value for keys in m.
func first(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

// ReplayBroker serves a recorded auction one row per snapshot.
type ReplayBroker struct {
	mu        sync.Mutex
	rows      []replayRow
	next      int
	price     float64
	remaining time.Duration
	hist      []Bid
	start     time.Time
}

func NewReplayBroker(rows []replayRow) *ReplayBroker {
	rb := &ReplayBroker{rows: rows, start: time.Now().UTC()}
	if len(rows) > 0 {
		rb.remaining = rows[0].Remaining
	}
	return rb
}

func (rb *ReplayBroker) Name() string { return "replay" }

// at maps the recorded remaining time onto a wall-clock bid time.
func (rb *ReplayBroker) at() time.Time {
	if len(rb.rows) == 0 {
		return rb.start
	}
	return rb.start.Add(rb.rows[0].Remaining - rb.remaining)
}

func (rb *ReplayBroker) GetSnapshot(ctx context.Context, auctionID string, estimatedValue float64) (AuctionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return AuctionSnapshot{}, err
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.next < len(rb.rows) {
		r := rb.rows[rb.next]
		rb.next++
		rb.remaining = r.Remaining
		if r.Bidder != "" && r.Price > rb.price {
			rb.price = r.Price
			rb.hist = append(rb.hist, Bid{Time: rb.at(), Amount: r.Price, Bidder: r.Bidder, Self: r.Bidder == SelfBidder})
		}
	} else {
		rb.remaining = 0
	}
	hist := append([]Bid(nil), rb.hist...)
	return AuctionSnapshot{
		AuctionID:       auctionID,
		CurrentPrice:    rb.price,
		TimeRemaining:   rb.remaining,
		BidHistory:      hist,
		EstimatedValue:  estimatedValue,
		CompetitorCount: competitorCount(hist),
	}, nil
}

func (rb *ReplayBroker) SubmitBid(ctx context.Context, auctionID string, amount float64) BidReceipt {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.remaining <= 0 {
		return BidReceipt{Error: "auction closed"}
	}
	if amount <= rb.price {
		return BidReceipt{Error: fmt.Sprintf("bid %.2f must exceed current price %.2f", amount, rb.price)}
	}
	rb.price = amount
	rb.hist = append(rb.hist, Bid{Time: rb.at(), Amount: amount, Bidder: SelfBidder, Self: true})
	return BidReceipt{Success: true, BidID: fmt.Sprintf("replay-%d", len(rb.hist))}
}

func (rb *ReplayBroker) Close() error { return nil }

// ReplayReport summarizes one replay.
type ReplayReport struct {
	Result AutopilotResult
	Close  CloseReport
	Won    bool
	Price  float64
}

// runReplay plays csvPath through a fresh session and prints the battle log to w.
func runReplay(ctx context.Context, csvPath string, strat StrategyConfig, estimatedValue float64, reg *Registry, w io.Writer) (ReplayReport, error) {
	rows, err := loadReplayCSV(csvPath)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("replay load: %w", err)
	}
	return replayRows(ctx, "replay:"+filepath.Base(csvPath), rows, strat, estimatedValue, reg, w)
}

func replayRows(ctx context.Context, id string, rows []replayRow, strat StrategyConfig, estimatedValue float64, reg *Registry, w io.Writer) (ReplayReport, error) {
	if len(rows) == 0 {
		return ReplayReport{}, errors.New("replay: no rows")
	}
	rb := NewReplayBroker(rows)
	initial := AuctionSnapshot{EstimatedValue: estimatedValue, TimeRemaining: rows[0].Remaining}
	s, err := reg.Initialize(ctx, id, strat, rb, initial)
	if err != nil {
		return ReplayReport{}, err
	}
	res, err := s.RunAutopilot(ctx, 0, 0)
	if err != nil {
		_, _ = reg.Close(ctx, id, nil)
		return ReplayReport{}, err
	}
	for _, e := range res.TickLog {
		fmt.Fprintln(w, e)
	}

	rep := ReplayReport{Result: res, Won: res.LastSnapshot.Leading(), Price: res.LastSnapshot.CurrentPrice}
	var fb *Feedback
	if res.Ended {
		d := debrief(res.LastSnapshot, strat.MaxBid)
		fb = &d
	}
	rep.Close, err = reg.Close(ctx, id, fb)
	if err != nil {
		return rep, err
	}
	fmt.Fprintf(w, "Replay complete. won=%v price=%.2f ticks=%d aggressiveness %.2f -> %.2f\n",
		rep.Won, rep.Price, res.Ticks, rep.Close.AggressivenessBefore, rep.Close.AggressivenessAfter)
	return rep, nil
}
