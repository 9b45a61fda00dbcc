package pricefeed

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrNoPriceData    = errors.New("no price data")
	ErrNoCorrelation  = errors.New("no correlated price")
	ErrShortHistory   = errors.New("insufficient price history")
	ErrUnknownFeed    = errors.New("unknown feed")
	ErrZeroSmoothing  = errors.New("no nonzero correlated price in window")
	errWindowTooSmall = errors.New("window too small")
)

// bandBps is the half-width of the acceptance band around a reference tick.
const bandBps = 500

// VectorSeed derives the correlation seed of a height from its price vector.
func VectorSeed(vector []uint32) uint64 {
	b, err := rlp.EncodeToBytes(vector)
	if err != nil {
		panic(fmt.Errorf("encode price vector: %w", err))
	}
	return binary.BigEndian.Uint64(crypto.Keccak256(b)[:8])
}

// NextSeed advances the linear congruential generator.
func NextSeed(seed uint64) uint64 { return seed*11109 + 13849 }

// FeedSeed jitters a height seed per feed so feeds start their scans at
// unrelated offsets.
func FeedSeed(seed uint64, slot int) uint64 {
	for i := 0; i < slot; i++ {
		seed = NextSeed(seed)
	}
	return seed
}

// Correlate picks a reference tick from window (newest first) that more than
// half of the window agrees with, starting the scan at seed. It returns the
// reference scaled by mult.
func Correlate(seed uint64, window []uint32, mult int64) (int64, error) {
	w := len(window)
	if w < 2 {
		return 0, errWindowTooSmall
	}
	start := seed % uint64(w)
	for iter := 0; iter < w; iter++ {
		i := int((uint64(iter) + start) % uint64(w))
		ref := int64(window[i])
		if ref == 0 {
			continue
		}
		high := ref * (10000 + bandBps) / 10000
		low := ref * (10000 - bandBps) / 10000
		if high == ref {
			high++
		}
		if low == ref {
			low--
		}
		agree := 0
		for j := 0; j < w; j++ {
			p := int64(window[(i+j)%w])
			if p < low || p > high {
				continue
			}
			if agree++; agree > w/2 {
				return ref * mult, nil
			}
		}
	}
	return 0, ErrNoCorrelation
}

// Smooth averages the newest width correlated values (newest first), carrying
// the last nonzero value over gaps.
func Smooth(correlated []int64, width int) (int64, error) {
	if width < 2 {
		return 0, errWindowTooSmall
	}
	if len(correlated) < width {
		return 0, ErrShortHistory
	}
	var carry int64
	for i := 0; i < width; i++ {
		if correlated[i] != 0 {
			carry = correlated[i]
			break
		}
	}
	if carry == 0 {
		return 0, ErrZeroSmoothing
	}
	var sum int64
	for i := 0; i < width; i++ {
		if c := correlated[i]; c != 0 {
			carry = c
		}
		sum += carry
	}
	return sum / int64(width), nil
}
