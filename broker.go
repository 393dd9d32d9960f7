// FILE: broker.go
// Package main – Broker abstraction: our bidding agent at the auction house.
//
// This file defines the minimal interface the control loop and the registry
// need to observe a lot and place bids on it:
//   • GetSnapshot: current price, remaining time, bid history (leader flags set)
//   • SubmitBid:   place one bid; failures are reported in-band, never as errors
//   • Close:       release whatever the broker holds for the session
//
// Concrete implementations live in separate files:
//   • broker_paper.go  – simulated lots with rival bidders (dry runs)
//   • broker_bridge.go – HTTP client for the scraping sidecar
//   • backtest.go      – replay of a recorded auction
package main

import "context"

// BidReceipt is the broker's answer to a bid.
type BidReceipt struct {
	Success bool   `json:"success"`
	BidID   string `json:"bid_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Broker is the minimal surface a session needs.
type Broker interface {
	Name() string
	GetSnapshot(ctx context.Context, auctionID string, estimatedValue float64) (AuctionSnapshot, error)
	SubmitBid(ctx context.Context, auctionID string, amount float64) BidReceipt
	Close() error
}

// BrokerFactory opens a broker handle for one lot.
type BrokerFactory func(auctionID string) (Broker, error)
