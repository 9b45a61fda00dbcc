package pricefeed

import (
	"fmt"

	"github.com/uhyunpark/ccledger/params"
)

// MaxSlots bounds the price vector width; feed indexes must fit the low
// bits of a synthetic opcode.
const MaxSlots = 2048

// FeedTable names the slots of the per-block price vector. Slot 0 holds the
// block timestamp, feeds occupy slots 1..Len().
type FeedTable struct {
	feeds []params.Feed
	index map[string]int
}

func NewFeedTable(feeds []params.Feed) (*FeedTable, error) {
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}
	if len(feeds)+1 > MaxSlots {
		return nil, fmt.Errorf("%d feeds exceed %d slots", len(feeds), MaxSlots-1)
	}
	t := &FeedTable{feeds: append([]params.Feed(nil), feeds...), index: make(map[string]int, len(feeds))}
	for i, f := range feeds {
		if f.Name == "" {
			return nil, fmt.Errorf("feed %d has no name", i+1)
		}
		if f.Mult <= 0 {
			return nil, fmt.Errorf("feed %s has non-positive multiplier", f.Name)
		}
		if _, dup := t.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate feed %s", f.Name)
		}
		t.index[f.Name] = i + 1
	}
	return t, nil
}

// Len is the number of price feeds (excluding the timestamp slot).
func (t *FeedTable) Len() int { return len(t.feeds) }

// Width is the expected price vector length.
func (t *FeedTable) Width() int { return len(t.feeds) + 1 }

// Index returns the slot of a feed name.
func (t *FeedTable) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

func (t *FeedTable) Name(slot int) string {
	if slot < 1 || slot > len(t.feeds) {
		return ""
	}
	return t.feeds[slot-1].Name
}

// Mult scales a raw tick to 1e8 fixed point.
func (t *FeedTable) Mult(slot int) int64 {
	if slot < 1 || slot > len(t.feeds) {
		return 0
	}
	return t.feeds[slot-1].Mult
}
