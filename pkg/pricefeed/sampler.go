package pricefeed

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// VectorSource returns the committed price vector of a height.
type VectorSource interface {
	PriceVector(height uint64) ([]uint32, error)
}

// SmoothedPrice is the raw, correlated and smoothed price of one feed at one
// height, all in 1e8 fixed point.
type SmoothedPrice struct {
	Height     uint64 `json:"height"`
	Raw        int64  `json:"raw"`
	Correlated int64  `json:"correlated"`
	Smoothed   int64  `json:"smoothed"`
}

type priceKey struct {
	height uint64
	slot   int
}

// Sampler computes mark prices from committed price vectors. Results are
// cached per (height, feed); committed heights never change.
type Sampler struct {
	src         VectorSource
	feeds       *FeedTable
	dayWindow   int
	smoothWidth int

	vectors    *lru.Cache[uint64, []uint32]
	correlated *lru.Cache[priceKey, int64]
	smoothed   *lru.Cache[priceKey, SmoothedPrice]
}

func NewSampler(src VectorSource, feeds *FeedTable, dayWindow, smoothWidth, cacheSize int) (*Sampler, error) {
	if dayWindow < 7 {
		return nil, fmt.Errorf("day window %d is too small", dayWindow)
	}
	if cacheSize <= 0 {
		cacheSize = 4 * dayWindow * feeds.Len()
	}
	vectors, err := lru.New[uint64, []uint32](4 * dayWindow)
	if err != nil {
		return nil, fmt.Errorf("vector cache: %w", err)
	}
	corr, err := lru.New[priceKey, int64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("correlated cache: %w", err)
	}
	smooth, err := lru.New[priceKey, SmoothedPrice](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("smoothed cache: %w", err)
	}
	return &Sampler{
		src:         src,
		feeds:       feeds,
		dayWindow:   dayWindow,
		smoothWidth: smoothWidth,
		vectors:     vectors,
		correlated:  corr,
		smoothed:    smooth,
	}, nil
}

func (s *Sampler) Feeds() *FeedTable { return s.feeds }
func (s *Sampler) DayWindow() int    { return s.dayWindow }

// Span is how many heights back a smoothed price may depend on.
func (s *Sampler) Span() uint64 { return uint64(2*s.dayWindow + s.smoothWidth) }

// Sample reads the price vector of height and checks its width.
func (s *Sampler) Sample(height uint64) ([]uint32, error) {
	if v, ok := s.vectors.Get(height); ok {
		return v, nil
	}
	v, err := s.src.PriceVector(height)
	if err != nil {
		return nil, fmt.Errorf("height %d: %w", height, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("height %d: %w", height, ErrNoPriceData)
	}
	if len(v) != s.feeds.Width() {
		return nil, fmt.Errorf("height %d: vector width %d, want %d: %w", height, len(v), s.feeds.Width(), ErrNoPriceData)
	}
	s.vectors.Add(height, v)
	return v, nil
}

func (s *Sampler) checkSlot(slot int) error {
	if slot < 1 || slot > s.feeds.Len() {
		return fmt.Errorf("slot %d: %w", slot, ErrUnknownFeed)
	}
	return nil
}

// Correlated returns the correlated price of a feed at height. A window with
// no agreeing majority yields 0, which smoothing carries over.
func (s *Sampler) Correlated(height uint64, slot int) (int64, error) {
	if err := s.checkSlot(slot); err != nil {
		return 0, err
	}
	key := priceKey{height, slot}
	if v, ok := s.correlated.Get(key); ok {
		return v, nil
	}
	if height+1 < uint64(s.dayWindow) {
		return 0, fmt.Errorf("correlate at %d: %w", height, ErrShortHistory)
	}
	top, err := s.Sample(height)
	if err != nil {
		return 0, err
	}
	window := make([]uint32, s.dayWindow)
	window[0] = top[slot]
	for i := 1; i < s.dayWindow; i++ {
		v, err := s.Sample(height - uint64(i))
		if err != nil {
			return 0, err
		}
		window[i] = v[slot]
	}
	seed := FeedSeed(VectorSeed(top), slot)
	price, err := Correlate(seed, window, s.feeds.Mult(slot))
	if err != nil && !errors.Is(err, ErrNoCorrelation) {
		return 0, err
	}
	s.correlated.Add(key, price)
	return price, nil
}

// Price returns the raw/correlated/smoothed triple of a feed at height.
func (s *Sampler) Price(height uint64, slot int) (SmoothedPrice, error) {
	if err := s.checkSlot(slot); err != nil {
		return SmoothedPrice{}, err
	}
	key := priceKey{height, slot}
	if v, ok := s.smoothed.Get(key); ok {
		return v, nil
	}
	if height+2 < uint64(2*s.dayWindow) {
		return SmoothedPrice{}, fmt.Errorf("smooth at %d: %w", height, ErrShortHistory)
	}
	top, err := s.Sample(height)
	if err != nil {
		return SmoothedPrice{}, err
	}
	corr := make([]int64, s.dayWindow)
	for i := 0; i < s.dayWindow; i++ {
		c, err := s.Correlated(height-uint64(i), slot)
		if err != nil {
			return SmoothedPrice{}, err
		}
		corr[i] = c
	}
	smoothed, err := Smooth(corr, s.dayWindow)
	if err != nil {
		return SmoothedPrice{}, fmt.Errorf("smooth feed %s at %d: %w", s.feeds.Name(slot), height, err)
	}
	p := SmoothedPrice{
		Height:     height,
		Raw:        int64(top[slot]) * s.feeds.Mult(slot),
		Correlated: corr[0],
		Smoothed:   smoothed,
	}
	s.smoothed.Add(key, p)
	return p, nil
}

// Smoothed returns the mark price of a feed at height.
func (s *Sampler) Smoothed(height uint64, slot int) (int64, error) {
	p, err := s.Price(height, slot)
	if err != nil {
		return 0, err
	}
	return p.Smoothed, nil
}

type FeedDump struct {
	Name   string          `json:"name"`
	Prices []SmoothedPrice `json:"prices"`
}

// Dump is a newest-first view of every feed ending at a tip height.
type Dump struct {
	Height      uint64     `json:"height"`
	FirstHeight uint64     `json:"firstheight"`
	Seed        uint64     `json:"seed"`
	MaxSamples  int        `json:"maxsamples"`
	Width       int        `json:"width"`
	DayWindow   int        `json:"daywindow"`
	NumFeeds    int        `json:"numpricefeeds"`
	Timestamps  []uint32   `json:"timestamps"`
	Feeds       []FeedDump `json:"pricefeeds"`
}

// Dump collects up to maxSamples heights per feed ending at tip. When the
// chain is too short for smoothing only raw prices are reported.
func (s *Sampler) Dump(tip uint64, maxSamples int) (*Dump, error) {
	if maxSamples < 1 {
		maxSamples = 1
	}
	top, err := s.Sample(tip)
	if err != nil {
		return nil, err
	}
	width := maxSamples + 2*s.dayWindow + s.smoothWidth
	avail := int(tip) + 1
	if avail > width {
		avail = width
	}
	n := maxSamples
	if n > avail {
		n = avail
	}
	d := &Dump{
		Height:      tip,
		FirstHeight: tip + 1 - uint64(avail),
		Seed:        VectorSeed(top),
		MaxSamples:  maxSamples,
		Width:       width,
		DayWindow:   s.dayWindow,
		NumFeeds:    s.feeds.Len(),
	}
	for i := 0; i < n; i++ {
		v, err := s.Sample(tip - uint64(i))
		if err != nil {
			return nil, err
		}
		d.Timestamps = append(d.Timestamps, v[0])
	}
	full := avail >= width
	for slot := 1; slot <= s.feeds.Len(); slot++ {
		fd := FeedDump{Name: s.feeds.Name(slot)}
		for i := 0; i < n; i++ {
			h := tip - uint64(i)
			if full {
				p, err := s.Price(h, slot)
				if err != nil {
					return nil, err
				}
				fd.Prices = append(fd.Prices, p)
				continue
			}
			v, err := s.Sample(h)
			if err != nil {
				return nil, err
			}
			fd.Prices = append(fd.Prices, SmoothedPrice{Height: h, Raw: int64(v[slot]) * s.feeds.Mult(slot)})
		}
		d.Feeds = append(d.Feeds, fd)
	}
	return d, nil
}
