package pricefeed

import (
	"errors"
	"fmt"
	"testing"

	"github.com/uhyunpark/ccledger/params"
)

type memSource map[uint64][]uint32

func (m memSource) PriceVector(h uint64) ([]uint32, error) {
	v, ok := m[h]
	if !ok {
		return nil, fmt.Errorf("height %d: %w", h, ErrNoPriceData)
	}
	return v, nil
}

const testWindow = 7

func testFeeds(t *testing.T) *FeedTable {
	t.Helper()
	ft, err := NewFeedTable([]params.Feed{{Name: "BTC_USD", Mult: 10000}, {Name: "ETH_USD", Mult: 10000}})
	if err != nil {
		t.Fatalf("feed table: %v", err)
	}
	return ft
}

// series builds a source of heights [0, n) where feed 1 follows fn and feed 2 is flat.
func series(n uint64, fn func(h uint64) uint32) memSource {
	src := memSource{}
	for h := uint64(0); h < n; h++ {
		src[h] = []uint32{uint32(1700000000 + h*60), fn(h), 20000}
	}
	return src
}

func newTestSampler(t *testing.T, src VectorSource) *Sampler {
	t.Helper()
	s, err := NewSampler(src, testFeeds(t), testWindow, 1, 0)
	if err != nil {
		t.Fatalf("sampler: %v", err)
	}
	return s
}

func TestCorrelateConstant(t *testing.T) {
	window := []uint32{500, 500, 500, 500, 500, 500, 500}
	for seed := uint64(0); seed < 20; seed++ {
		got, err := Correlate(seed, window, 10000)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if got != 5000000 {
			t.Errorf("seed %d: got %d, want 5000000", seed, got)
		}
	}
}

func TestCorrelateIgnoresMinorityOutliers(t *testing.T) {
	window := []uint32{1000, 1001, 5000, 999, 1000, 1, 1002}
	for seed := uint64(0); seed < 7; seed++ {
		got, err := Correlate(seed, window, 1)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if got < 999 || got > 1002 {
			t.Errorf("seed %d picked outlier %d", seed, got)
		}
	}
}

func TestCorrelateNoMajority(t *testing.T) {
	window := []uint32{100, 200, 400, 800, 1600, 3200, 6400}
	if _, err := Correlate(3, window, 1); !errors.Is(err, ErrNoCorrelation) {
		t.Errorf("err = %v, want ErrNoCorrelation", err)
	}
	if _, err := Correlate(0, make([]uint32, 7), 1); !errors.Is(err, ErrNoCorrelation) {
		t.Errorf("all-zero window err = %v", err)
	}
}

func TestSmooth(t *testing.T) {
	tests := []struct {
		name string
		in   []int64
		want int64
	}{
		{"constant", []int64{70, 70, 70, 70, 70, 70, 70}, 70},
		{"average", []int64{10, 20, 30, 40, 50, 60, 70}, 40},
		{"carry forward over gaps", []int64{0, 0, 70, 0, 0, 0, 0}, 70},
		{"carry newest nonzero", []int64{10, 0, 0, 40, 0, 0, 0}, (10 + 10 + 10 + 40*4) / 7},
		{"only first window counts", []int64{7, 7, 7, 7, 7, 7, 7, 1000000}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Smooth(tt.in, testWindow)
			if err != nil {
				t.Fatalf("Smooth: %v", err)
			}
			if got != tt.want {
				t.Errorf("Smooth = %d, want %d", got, tt.want)
			}
		})
	}
	if _, err := Smooth(make([]int64, 7), testWindow); !errors.Is(err, ErrZeroSmoothing) {
		t.Errorf("all zero err = %v", err)
	}
	if _, err := Smooth([]int64{1, 2}, testWindow); !errors.Is(err, ErrShortHistory) {
		t.Errorf("short err = %v", err)
	}
}

func TestSamplerConstantSeries(t *testing.T) {
	s := newTestSampler(t, series(40, func(uint64) uint32 { return 1000000 }))
	for h := uint64(2*testWindow - 2); h < 40; h++ {
		p, err := s.Price(h, 1)
		if err != nil {
			t.Fatalf("height %d: %v", h, err)
		}
		if p.Raw != 100*1e8 || p.Correlated != 100*1e8 || p.Smoothed != 100*1e8 {
			t.Errorf("height %d: %+v, want all 100e8", h, p)
		}
	}
}

func TestSamplerShortHistory(t *testing.T) {
	s := newTestSampler(t, series(40, func(uint64) uint32 { return 1000000 }))
	if _, err := s.Smoothed(2*testWindow-3, 1); !errors.Is(err, ErrShortHistory) {
		t.Errorf("err = %v, want ErrShortHistory", err)
	}
	if _, err := s.Smoothed(20, 0); !errors.Is(err, ErrUnknownFeed) {
		t.Errorf("timestamp slot err = %v, want ErrUnknownFeed", err)
	}
	if _, err := s.Smoothed(20, 3); !errors.Is(err, ErrUnknownFeed) {
		t.Errorf("slot 3 err = %v, want ErrUnknownFeed", err)
	}
	if _, err := s.Smoothed(45, 1); !errors.Is(err, ErrNoPriceData) {
		t.Errorf("missing height err = %v, want ErrNoPriceData", err)
	}
}

func TestSamplerRejectsBadWidth(t *testing.T) {
	src := series(40, func(uint64) uint32 { return 1000000 })
	src[30] = []uint32{1, 2}
	s := newTestSampler(t, src)
	if _, err := s.Smoothed(30, 1); !errors.Is(err, ErrNoPriceData) {
		t.Errorf("err = %v, want ErrNoPriceData", err)
	}
}

func TestSmoothedDependsOnlyOnSpan(t *testing.T) {
	const n = 60
	const h = uint64(50)
	walk := func(x uint64) uint32 { return 1000000 + uint32(x%5)*3000 }
	base := series(n, walk)
	s1 := newTestSampler(t, base)
	want, err := s1.Smoothed(h, 1)
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}

	span := s1.Span()
	perturbed := series(n, func(x uint64) uint32 {
		if x < h-span || x > h {
			return 7 // wildly different outside [h-span, h]
		}
		return walk(x)
	})
	s2 := newTestSampler(t, perturbed)
	got, err := s2.Smoothed(h, 1)
	if err != nil {
		t.Fatalf("perturbed: %v", err)
	}
	if got != want {
		t.Errorf("smoothed changed from %d to %d when only samples outside the span changed", want, got)
	}
}

func TestSamplerStepTracksMajority(t *testing.T) {
	s := newTestSampler(t, series(60, func(h uint64) uint32 {
		if h < 20 {
			return 1000000
		}
		return 1100000
	}))
	p, err := s.Price(45, 1)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if p.Smoothed != 110*1e8 {
		t.Errorf("smoothed = %d, want 110e8", p.Smoothed)
	}
}

func TestFeedSeedJitter(t *testing.T) {
	seed := VectorSeed([]uint32{1, 2, 3})
	if FeedSeed(seed, 0) != seed {
		t.Error("slot 0 must keep the seed")
	}
	if FeedSeed(seed, 1) != seed*11109+13849 {
		t.Error("slot 1 must advance the generator once")
	}
	if FeedSeed(seed, 2) != NextSeed(NextSeed(seed)) {
		t.Error("slot 2 must advance the generator twice")
	}
	if VectorSeed([]uint32{1, 2, 3}) != seed || VectorSeed([]uint32{1, 2, 4}) == seed {
		t.Error("vector seed must be a deterministic function of the vector")
	}
}

func TestDump(t *testing.T) {
	s := newTestSampler(t, series(40, func(uint64) uint32 { return 1000000 }))
	d, err := s.Dump(39, 3)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if d.Width != 3+2*testWindow+1 || d.NumFeeds != 2 || len(d.Feeds) != 2 {
		t.Fatalf("unexpected dump header %+v", d)
	}
	if len(d.Timestamps) != 3 || d.Timestamps[0] != 1700000000+39*60 {
		t.Errorf("timestamps = %v", d.Timestamps)
	}
	if got := d.Feeds[0].Prices[0].Smoothed; got != 100*1e8 {
		t.Errorf("smoothed = %d", got)
	}

	short, err := s.Dump(5, 3)
	if err != nil {
		t.Fatalf("short dump: %v", err)
	}
	if short.Feeds[0].Prices[0].Smoothed != 0 || short.Feeds[0].Prices[0].Raw != 100*1e8 {
		t.Errorf("short chain should report raw prices only: %+v", short.Feeds[0].Prices[0])
	}
}

func TestFeedTable(t *testing.T) {
	ft := testFeeds(t)
	if i, ok := ft.Index("ETH_USD"); !ok || i != 2 {
		t.Errorf("Index(ETH_USD) = %d, %v", i, ok)
	}
	if ft.Width() != 3 || ft.Name(1) != "BTC_USD" || ft.Name(0) != "" {
		t.Error("unexpected table layout")
	}
	if _, err := NewFeedTable([]params.Feed{{Name: "A", Mult: 1}, {Name: "A", Mult: 1}}); err == nil {
		t.Error("duplicate feed names must be rejected")
	}
}

func TestScriptedProvider(t *testing.T) {
	p := NewScripted(Step{FromHeight: 10, Ticks: []uint32{5}}, Step{FromHeight: 0, Ticks: []uint32{1}})
	if v := p.Vector(3, 99); v[0] != 99 || v[1] != 1 {
		t.Errorf("height 3 = %v", v)
	}
	if v := p.Vector(10, 100); v[1] != 5 {
		t.Errorf("height 10 = %v", v)
	}
}

func TestRandomWalkDeterministic(t *testing.T) {
	a := NewRandomWalk(7, []uint32{1000000, 2000}, 20)
	b := NewRandomWalk(7, []uint32{1000000, 2000}, 20)
	for h := uint64(0); h < 50; h++ {
		va, vb := a.Vector(h, h), b.Vector(h, h)
		for i := range va {
			if va[i] != vb[i] {
				t.Fatalf("height %d slot %d: %d != %d", h, i, va[i], vb[i])
			}
		}
		if va[1] == 0 || va[2] == 0 {
			t.Fatalf("walk reached zero at %d", h)
		}
	}
}
