package prices

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// Phase is the state of a bet. A bet lives in output 0 of its latest
// transition tx until a cashout or rekt spends it.
type Phase int

const (
	Opened Phase = iota + 1
	Funded
	CostBasisSet
	CashedOut
	Rekted
)

func (p Phase) String() string {
	switch p {
	case Opened:
		return "opened"
	case Funded:
		return "funded"
	case CostBasisSet:
		return "costbasis"
	case CashedOut:
		return "cashedout"
	case Rekted:
		return "rekt"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownBet = errors.New("unknown bet")
	errTransition = errors.New("invalid bet transition")
)

// Transition is one tx in the life of a bet.
type Transition struct {
	Func   Func        `json:"func"`
	TxID   common.Hash `json:"txid"`
	Height uint64      `json:"height"`
	Amount uint64      `json:"amount,omitempty"`
}

// Closing records how a bet ended.
type Closing struct {
	TxID      common.Hash
	Height    uint64
	RefHeight uint64
	Mark      uint64
	// Paid is the owner payout on cashout or the rekter reward on rekt.
	Paid   uint64
	Rekter common.Address
}

// Position is a bet folded from its transition txs.
type Position struct {
	ID           common.Hash
	Owner        []byte
	Leverage     int64
	Principal    uint64
	Synthetic    string
	OpenHeight   uint64
	Phase        Phase
	CostBasis    uint64
	CostBasisRef uint64
	// Current is the live state output while the bet is open.
	Current types.OutPoint
	Close   *Closing
	History []Transition
}

// Open reports whether the bet has not been closed.
func (p Position) Open() bool { return p.Phase != CashedOut && p.Phase != Rekted }

func (p Position) HasCostBasis() bool { return p.CostBasis > 0 }

// Expired reports whether the cost basis window closed on top of tip without
// a cost basis. Such a bet can never be cashed out or rekt, so it draws
// nothing from the pool and its principal stays in the state output.
func (p Position) Expired(tip, window uint64) bool {
	return p.Open() && !p.HasCostBasis() && tip+1 > p.OpenHeight+window
}

// Opening is the state created by a bet tx.
func Opening(id common.Hash, height uint64, b Bet) Position {
	return Position{
		ID:         id,
		Owner:      append([]byte(nil), b.Owner...),
		Leverage:   b.SignedLeverage(),
		Principal:  b.Amount,
		Synthetic:  b.Synthetic,
		OpenHeight: b.OpenHeight,
		Phase:      Opened,
		Current:    types.OutPoint{TxID: id},
		History:    []Transition{{Func: FuncBet, TxID: id, Height: height, Amount: b.Amount}},
	}
}

// Next returns the state after the tx txid carrying pl spends the state output.
func (p Position) Next(pl Payload, txid common.Hash, height uint64) (Position, error) {
	if !p.Open() {
		return p, fmt.Errorf("%w: bet is %s", errTransition, p.Phase)
	}
	next := p
	next.History = append(append([]Transition(nil), p.History...), Transition{Func: pl.Func(), TxID: txid, Height: height})
	last := &next.History[len(next.History)-1]
	switch v := pl.(type) {
	case AddFunding:
		if v.BetID != p.ID || p.HasCostBasis() {
			return p, fmt.Errorf("%w: addfunding", errTransition)
		}
		principal, ok := AddAmount(p.Principal, v.Amount)
		if !ok {
			return p, fmt.Errorf("%w: addfunding overflows principal", errTransition)
		}
		next.Principal = principal
		next.Phase = Funded
		next.Current = types.OutPoint{TxID: txid}
		last.Amount = v.Amount
	case CostBasis:
		if v.BetID != p.ID || p.HasCostBasis() {
			return p, fmt.Errorf("%w: costbasis", errTransition)
		}
		next.CostBasis = v.CostBasis
		next.CostBasisRef = v.RefHeight
		next.Phase = CostBasisSet
		next.Current = types.OutPoint{TxID: txid}
	case Cashout:
		if v.BetID != p.ID || !p.HasCostBasis() {
			return p, fmt.Errorf("%w: cashout", errTransition)
		}
		next.Phase = CashedOut
		next.Close = &Closing{TxID: txid, Height: height, RefHeight: v.RefHeight, Mark: v.Mark, Paid: v.Payout}
		last.Amount = v.Payout
	case Rekt:
		if v.BetID != p.ID || !p.HasCostBasis() {
			return p, fmt.Errorf("%w: rekt", errTransition)
		}
		next.Phase = Rekted
		next.Close = &Closing{TxID: txid, Height: height, RefHeight: v.RefHeight, Mark: v.Mark, Paid: v.Reward, Rekter: v.Rekter}
		last.Amount = v.Reward
	default:
		return p, fmt.Errorf("%w: %s cannot spend a bet", errTransition, pl.Func())
	}
	return next, nil
}

// LoadPosition follows output 0 spends from the bet tx to the current state.
func LoadPosition(v cc.ChainView, id common.Hash) (Position, error) {
	tx, height, err := v.GetTx(id)
	if errors.Is(err, cc.ErrNotFound) {
		return Position{}, fmt.Errorf("%w %s", ErrUnknownBet, id.Hex())
	}
	if err != nil {
		return Position{}, err
	}
	pl, err := DecodePayload(tx.Payload)
	if err != nil {
		return Position{}, fmt.Errorf("%w %s: %v", ErrUnknownBet, id.Hex(), err)
	}
	b, ok := pl.(Bet)
	if !ok {
		return Position{}, fmt.Errorf("%w %s: tx is a %s", ErrUnknownBet, id.Hex(), pl.Func())
	}
	p := Opening(id, height, b)
	for p.Open() {
		spender, spent := v.SpentBy(p.Current)
		if !spent {
			break
		}
		stx, sh, err := v.GetTx(spender)
		if err != nil {
			return p, fmt.Errorf("bet %s: load spender: %w", id.Hex(), err)
		}
		spl, err := DecodePayload(stx.Payload)
		if err != nil {
			return p, fmt.Errorf("bet %s: spender %s: %w", id.Hex(), spender.Hex(), err)
		}
		if p, err = p.Next(spl, spender, sh); err != nil {
			return p, fmt.Errorf("bet %s: %w", id.Hex(), err)
		}
	}
	return p, nil
}
