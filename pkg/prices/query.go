package prices

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
)

// ListFilter selects bets by whether they are still open.
type ListFilter int

const (
	ListAll ListFilter = iota
	ListOpen
	ListClosed
)

// BetInfo is a bet evaluated at a reference height.
type BetInfo struct {
	Position
	RefHeight uint64
	// Mark, Profits, Equity and Payout are set once the cost basis is known
	// and the mark at RefHeight can be computed.
	Mark    uint64
	Profits int64
	Equity  int64
	Payout  uint64
	Margin  uint64
	IsRekt  bool
	// MarkErr explains a missing mark.
	MarkErr string
}

// Info evaluates a bet at refHeight, or at the tip when refHeight is zero.
func (c *Contract) Info(v cc.ChainView, betID common.Hash, refHeight uint64) (*BetInfo, error) {
	p, err := LoadPosition(v, betID)
	if errors.Is(err, ErrUnknownBet) {
		return nil, cc.RequestWrap(c.code(), err)
	}
	if err != nil {
		return nil, err
	}
	if refHeight == 0 || refHeight > v.Height() {
		refHeight = v.Height()
	}
	info := &BetInfo{
		Position:  p,
		RefHeight: refHeight,
		Margin:    Margin(p.Principal, p.Leverage, c.cfg.MarginDivisor),
	}
	if !p.Open() {
		info.Mark = p.Close.Mark
		info.RefHeight = p.Close.RefHeight
		info.Profits = Profits(p.Principal, p.Leverage, int64(p.CostBasis), int64(p.Close.Mark))
		info.Equity = int64(p.Principal) + info.Profits
		info.IsRekt = p.Phase == Rekted
		if p.Phase == CashedOut {
			info.Payout = p.Close.Paid
		}
		return info, nil
	}
	mark, err := c.Mark(p.Synthetic, refHeight)
	if err != nil {
		info.MarkErr = err.Error()
		return info, nil
	}
	info.Mark = mark
	if p.HasCostBasis() {
		info.Profits = Profits(p.Principal, p.Leverage, int64(p.CostBasis), int64(mark))
		info.Equity = int64(p.Principal) + info.Profits
		info.IsRekt = IsRekt(p.Principal, info.Profits)
		if !info.IsRekt {
			info.Payout = Payout(p.Principal, info.Profits)
		}
	}
	return info, nil
}

// List returns bet ids matching filter, optionally only those owned by owner.
func (c *Contract) List(v cc.ChainView, filter ListFilter, owner []byte) ([]common.Hash, error) {
	positions, err := c.Positions(v)
	if err != nil {
		return nil, err
	}
	ids := []common.Hash{}
	for _, p := range positions {
		if len(owner) > 0 && !bytes.Equal(p.Owner, owner) {
			continue
		}
		switch {
		case filter == ListOpen && !p.Open():
			continue
		case filter == ListClosed && p.Open():
			continue
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// BookEntry aggregates the open bets on one synthetic in one direction.
type BookEntry struct {
	Synthetic string
	Short     bool
	Bets      int
	Principal uint64
	// Exposure is the summed margin; Leverage is principal weighted.
	Exposure uint64
	Leverage uint64
}

type Orderbook struct {
	Entries []BookEntry
	Fund    FundInfo
}

// Orderbook groups open bets by synthetic and direction.
func (c *Contract) Orderbook(v cc.ChainView) (*Orderbook, error) {
	positions, err := c.Positions(v)
	if err != nil {
		return nil, err
	}
	type key struct {
		synth string
		short bool
	}
	agg := make(map[key]*BookEntry)
	weighted := make(map[key]uint64)
	for _, p := range positions {
		if !p.Open() || p.Expired(v.Height(), c.cfg.CostBasisWindow) {
			continue
		}
		k := key{p.Synthetic, p.Leverage < 0}
		e, ok := agg[k]
		if !ok {
			e = &BookEntry{Synthetic: k.synth, Short: k.short}
			agg[k] = e
		}
		lev := p.Leverage
		if lev < 0 {
			lev = -lev
		}
		e.Bets++
		e.Principal += p.Principal
		e.Exposure += Margin(p.Principal, p.Leverage, c.cfg.MarginDivisor)
		weighted[k] += p.Principal * uint64(lev)
	}
	book := &Orderbook{Entries: []BookEntry{}}
	for k, e := range agg {
		if e.Principal > 0 {
			e.Leverage = weighted[k] / e.Principal
		}
		book.Entries = append(book.Entries, *e)
	}
	sort.Slice(book.Entries, func(i, j int) bool {
		a, b := book.Entries[i], book.Entries[j]
		if a.Synthetic != b.Synthetic {
			return a.Synthetic < b.Synthetic
		}
		return !a.Short && b.Short
	})
	if book.Fund, err = c.Fund(v); err != nil {
		return nil, err
	}
	return book, nil
}
