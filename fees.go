// FILE: fees.go
// Package main – Buyer-side acquisition cost.
//
// A hammer price is not what the buyer pays: the house adds a percentage
// premium plus a fixed protection fee. Totals are computed in decimal and
// rounded to cents.

package main

import "github.com/shopspring/decimal"

// FeeSchedule is the house premium applied on top of a winning bid.
type FeeSchedule struct {
	RatePct float64 // e.g. 9 for 9%
	Fixed   float64 // flat fee per lot
}

// TotalCost returns bid + bid*RatePct/100 + Fixed.
func (f FeeSchedule) TotalCost(bid float64) float64 {
	if !(bid > 0) {
		return 0
	}
	b := decimal.NewFromFloat(bid)
	premium := b.Mul(decimal.NewFromFloat(f.RatePct)).Div(decimal.NewFromInt(100))
	total, _ := b.Add(premium).Add(decimal.NewFromFloat(f.Fixed)).Round(centPrecision).Float64()
	return total
}

// MaxHammer is the largest bid whose total cost stays within budget.
func (f FeeSchedule) MaxHammer(budget float64) float64 {
	if !(budget > f.Fixed) {
		return 0
	}
	net := decimal.NewFromFloat(budget).Sub(decimal.NewFromFloat(f.Fixed))
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(f.RatePct).Div(decimal.NewFromInt(100)))
	out, _ := net.Div(factor).RoundFloor(centPrecision).Float64()
	return out
}
