package prices

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMargin(t *testing.T) {
	tests := []struct {
		amount   uint64
		leverage int64
		want     uint64
	}{
		{100, 10, 10},
		{101, 10, 11},
		{100, -777, 777},
		{1, 1, 1},
		{10000, 100, 10000},
		{math.MaxUint64, 777, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := Margin(tt.amount, tt.leverage, 100); got != tt.want {
			t.Errorf("Margin(%d, %d) = %d, want %d", tt.amount, tt.leverage, got, tt.want)
		}
	}
}

func TestHeadroom(t *testing.T) {
	tenth := decimal.RequireFromString("0.1")
	tests := []struct {
		fund, exposure uint64
		want           int64
	}{
		{100000, 0, 10000},
		{100005, 0, 10000},
		{100000, 10, 9990},
		{100000, 10010, -10},
		{0, math.MaxUint64, math.MinInt64},
	}
	for _, tt := range tests {
		if got := Headroom(tt.fund, tt.exposure, tenth); got != tt.want {
			t.Errorf("Headroom(%d, %d) = %d, want %d", tt.fund, tt.exposure, got, tt.want)
		}
	}
}

func TestProfitsAndPayout(t *testing.T) {
	cb := int64(100 * PriceUnit)
	tests := []struct {
		name     string
		leverage int64
		mark     int64
		profits  int64
		payout   uint64
		rekt     bool
	}{
		{"long up", 10, 110 * PriceUnit, 100, 199, false},
		{"short up", -10, 110 * PriceUnit, -100, 0, true},
		{"long down", 10, 90 * PriceUnit, -100, 0, true},
		{"long small move", 3, 101 * PriceUnit, 3, 102, false},
		{"flat", 10, 100 * PriceUnit, 0, 99, false},
		{"long nearly rekt", 10, 9010000000, -99, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Profits(100, tt.leverage, cb, tt.mark)
			if p != tt.profits {
				t.Fatalf("profits = %d, want %d", p, tt.profits)
			}
			if got := IsRekt(100, p); got != tt.rekt {
				t.Errorf("rekt = %v, want %v", got, tt.rekt)
			}
			if got := Payout(100, p); got != tt.payout {
				t.Errorf("payout = %d, want %d", got, tt.payout)
			}
		})
	}
}

func TestRektReward(t *testing.T) {
	if got := RektReward(100, 10000); got != 0 {
		t.Errorf("dust reward = %d", got)
	}
	if got := RektReward(4999999, 10000); got != 0 {
		t.Errorf("reward below fee = %d", got)
	}
	if got := RektReward(10000000, 10000); got != 20000 {
		t.Errorf("reward = %d, want 20000", got)
	}
	if got := RevshareFee(200); got != 199 {
		t.Errorf("RevshareFee(200) = %d", got)
	}
}

func TestAmountBounds(t *testing.T) {
	if sum, ok := AddAmount(100, 50); !ok || sum != 150 {
		t.Errorf("AddAmount(100, 50) = %d, %v", sum, ok)
	}
	if _, ok := AddAmount(100, math.MaxUint64-49); ok {
		t.Error("AddAmount accepted a wrapping sum")
	}
	if got := satAdd(math.MaxUint64-1, 5); got != math.MaxUint64 {
		t.Errorf("satAdd = %d", got)
	}

	tests := []struct {
		margin   uint64
		headroom int64
		want     bool
	}{
		{10, 10, true},
		{11, 10, false},
		{0, -1, false},
		{math.MaxUint64 - 50, math.MaxInt64, false},
		{math.MaxInt64, math.MaxInt64, true},
	}
	for _, tt := range tests {
		if got := Fits(tt.margin, tt.headroom); got != tt.want {
			t.Errorf("Fits(%d, %d) = %v, want %v", tt.margin, tt.headroom, got, tt.want)
		}
	}

	p := Position{Principal: 100, Leverage: 10}
	if got := ExtraMargin(p, 150, 100); got != 5 {
		t.Errorf("ExtraMargin grow = %d, want 5", got)
	}
	if got := ExtraMargin(p, 50, 100); got != 0 {
		t.Errorf("ExtraMargin shrink = %d, want 0", got)
	}
}
