// FILE: money.go
// Package main – Cent-exact money helpers.
//
// Bid amounts leave the engine rounded to cents so that a decision never
// carries float noise (500*1.05 must be 525.00, not 525.0000000000001).
//   • roundCents(x)  – half-away-from-zero rounding to 2 decimals
//   • floorCents(x)  – rounding toward -inf to 2 decimals (used for ceilings)
//   • minIncrement(p) – house bid step for a price (used by the paper broker)

package main

import (
	"math"

	"github.com/shopspring/decimal"
)

const centPrecision int32 = 2

func roundCents(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(x).Round(centPrecision).Float64()
	return f
}

func floorCents(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	f, _ := decimal.NewFromFloat(x).RoundFloor(centPrecision).Float64()
	return f
}

// mulCents multiplies price by factor in decimal and rounds to cents.
func mulCents(price, factor float64) float64 {
	if math.IsNaN(price) || math.IsNaN(factor) {
		return 0
	}
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(factor)).Round(centPrecision).Float64()
	return f
}

// minIncrement is the house step above the current price.
func minIncrement(price float64) float64 {
	switch {
	case price < 100:
		return 5
	case price < 200:
		return 10
	case price < 500:
		return 20
	case price < 1000:
		return 50
	default:
		return 100
	}
}
