// FILE: broker_bridge.go
// Package main – HTTP broker that talks to the local scraping sidecar.
//
// The sidecar drives a real browser session on the auction site and exposes
// the lot as JSON. This broker implements:
//   • GetSnapshot: GET  /lots/{id}/state?estimated_value=V
//   • SubmitBid:   POST /lots/{id}/bids {amount}
//
// Requests carry a short-lived HS256 bearer token when a shared secret is
// configured, and bids carry an Idempotency-Key so the sidecar can drop a
// replayed POST. State reads are retried (never on context errors); bids are
// never retried, a duplicate bid is worse than a missed one.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BridgeOptions configures the sidecar client.
type BridgeOptions struct {
	JWTSecret string
	Retries   int           // attempts per state read, >= 1
	Backoff   time.Duration // base delay between attempts
	Timeout   time.Duration // per-request HTTP timeout
}

// BridgeBroker talks to the scraping sidecar.
type BridgeBroker struct {
	base    string
	hc      *http.Client
	secret  string
	retries int
	backoff time.Duration
}

func NewBridgeBroker(base string, opts BridgeOptions) *BridgeBroker {
	base = strings.TrimSpace(base)
	if i := strings.IndexAny(base, " \t#"); i >= 0 { // cut trailing comment/space
		base = strings.TrimSpace(base[:i])
	}
	if base == "" {
		base = "http://127.0.0.1:8787"
	}
	base = strings.TrimRight(base, "/")
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 250 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &BridgeBroker{
		base:    base,
		hc:      &http.Client{Timeout: opts.Timeout},
		secret:  opts.JWTSecret,
		retries: opts.Retries,
		backoff: opts.Backoff,
	}
}

func (bb *BridgeBroker) Name() string { return "bridge" }

type bridgeBid struct {
	Time   string          `json:"time"`
	Amount decimal.Decimal `json:"amount"`
	Bidder string          `json:"bidder"`
	Self   bool            `json:"self"`
}

type bridgeLotState struct {
	LotID          string          `json:"lot_id"`
	Title          string          `json:"title"`
	CurrentBid     decimal.Decimal `json:"current_bid"`
	TimeRemainingS float64         `json:"time_remaining_s"`
	IsLeader       bool            `json:"is_leader"`
	Closed         bool            `json:"closed"`
	Bids           []bridgeBid     `json:"bids"`
}

// toSnapshot converts the sidecar's view into the engine's model.
func (st bridgeLotState) toSnapshot(auctionID string, estimatedValue float64, now time.Time) AuctionSnapshot {
	price := st.CurrentBid.InexactFloat64()
	hist := make([]Bid, 0, len(st.Bids)+1)
	for _, b := range st.Bids {
		ts, err := parseTimeFlexible(b.Time)
		if err != nil {
			ts = now
		}
		bidder := b.Bidder
		if b.Self && bidder == "" {
			bidder = SelfBidder
		}
		hist = append(hist, Bid{Time: ts, Amount: b.Amount.InexactFloat64(), Bidder: bidder, Self: b.Self})
	}
	// is_leader is authoritative; the scraped list often carries no identity.
	last := len(hist) - 1
	switch {
	case st.IsLeader && price > 0 && (last < 0 || hist[last].Amount < price):
		hist = append(hist, Bid{Time: now, Amount: price, Bidder: SelfBidder, Self: true})
	case st.IsLeader && last >= 0 && !hist[last].Self:
		hist[last].Self = true
		hist[last].Bidder = SelfBidder
	case !st.IsLeader && last >= 0 && hist[last].Self:
		hist[last].Self = false
		if hist[last].Bidder == SelfBidder {
			hist[last].Bidder = ""
		}
	}
	remaining := time.Duration(st.TimeRemainingS * float64(time.Second))
	if st.Closed || remaining < 0 {
		remaining = 0
	}
	id := st.LotID
	if id == "" {
		id = auctionID
	}
	return AuctionSnapshot{
		AuctionID:       id,
		Title:           st.Title,
		CurrentPrice:    price,
		TimeRemaining:   remaining,
		BidHistory:      hist,
		EstimatedValue:  estimatedValue,
		CompetitorCount: competitorCount(hist),
	}
}

func (bb *BridgeBroker) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("newrequest: %w (url=%s)", err, u)
	}
	req.Header.Set("User-Agent", "bidpilot/bridge")
	req.Header.Set("Accept", "application/json")
	if bb.secret != "" {
		tok, err := mintBridgeJWT(bb.secret, "bidpilot", time.Minute)
		if err != nil {
			return nil, fmt.Errorf("mint jwt: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// --- State ---

func (bb *BridgeBroker) GetSnapshot(ctx context.Context, auctionID string, estimatedValue float64) (AuctionSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= bb.retries; attempt++ {
		st, err := bb.fetchState(ctx, auctionID, estimatedValue)
		if err == nil {
			mtxBridgeRequests.WithLabelValues("state", "ok").Inc()
			return st.toSnapshot(auctionID, estimatedValue, time.Now().UTC()), nil
		}
		mtxBridgeRequests.WithLabelValues("state", "error").Inc()
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || attempt == bb.retries {
			break
		}
		select {
		case <-ctx.Done():
			return AuctionSnapshot{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * bb.backoff):
		}
	}
	return AuctionSnapshot{}, lastErr
}

func (bb *BridgeBroker) fetchState(ctx context.Context, auctionID string, estimatedValue float64) (bridgeLotState, error) {
	u := fmt.Sprintf("%s/lots/%s/state?estimated_value=%s", bb.base, url.PathEscape(auctionID),
		strconv.FormatFloat(estimatedValue, 'f', 2, 64))
	req, err := bb.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return bridgeLotState{}, err
	}
	res, err := bb.hc.Do(req)
	if err != nil {
		return bridgeLotState{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return bridgeLotState{}, fmt.Errorf("state %d: %s", res.StatusCode, strings.TrimSpace(string(b)))
	}
	var out bridgeLotState
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return bridgeLotState{}, fmt.Errorf("state decode: %w", err)
	}
	return out, nil
}

// --- Bids ---

func (bb *BridgeBroker) SubmitBid(ctx context.Context, auctionID string, amount float64) BidReceipt {
	body, _ := json.Marshal(map[string]string{
		"amount": decimal.NewFromFloat(amount).StringFixed(centPrecision),
	})
	u := fmt.Sprintf("%s/lots/%s/bids", bb.base, url.PathEscape(auctionID))
	req, err := bb.newRequest(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return BidReceipt{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	res, err := bb.hc.Do(req)
	if err != nil {
		mtxBridgeRequests.WithLabelValues("bid", "error").Inc()
		return BidReceipt{Error: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		mtxBridgeRequests.WithLabelValues("bid", "error").Inc()
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return BidReceipt{Error: fmt.Sprintf("bid %d: %s", res.StatusCode, strings.TrimSpace(string(b)))}
	}
	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		BidID   string `json:"bid_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		mtxBridgeRequests.WithLabelValues("bid", "error").Inc()
		return BidReceipt{Error: fmt.Sprintf("bid decode: %v", err)}
	}
	mtxBridgeRequests.WithLabelValues("bid", "ok").Inc()
	if !out.Success && out.Error == "" {
		out.Error = "rejected by auction house"
	}
	return BidReceipt{Success: out.Success, BidID: out.BidID, Error: out.Error}
}

// Close drops idle keep-alive connections held for this lot.
func (bb *BridgeBroker) Close() error {
	bb.hc.CloseIdleConnections()
	return nil
}
