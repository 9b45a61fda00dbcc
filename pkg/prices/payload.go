package prices

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Func identifies the transition a Prices tx performs. It is the first byte
// of the tx payload; the rest is the RLP body.
type Func byte

const (
	FuncRefill    Func = 'F'
	FuncBet       Func = 'B'
	FuncAddFund   Func = 'A'
	FuncCostBasis Func = 'C'
	FuncCashout   Func = 'Q'
	FuncRekt      Func = 'R'
)

func (f Func) String() string {
	switch f {
	case FuncRefill:
		return "refill"
	case FuncBet:
		return "bet"
	case FuncAddFund:
		return "addfunding"
	case FuncCostBasis:
		return "costbasis"
	case FuncCashout:
		return "cashout"
	case FuncRekt:
		return "rekt"
	default:
		return fmt.Sprintf("func(%#02x)", byte(f))
	}
}

var errBadPayload = errors.New("malformed prices payload")

// Payload is implemented by every Prices payload body.
type Payload interface {
	Func() Func
}

// Refill deposits Amount into the pool.
type Refill struct {
	Amount uint64
}

// Bet opens a position. Leverage is the magnitude; Short flips direction.
type Bet struct {
	Owner      []byte // 33-byte compressed pubkey
	Amount     uint64
	Leverage   uint64
	Short      bool
	Synthetic  string
	OpenHeight uint64
}

// AddFunding adds Amount to bet BetID.
type AddFunding struct {
	BetID  common.Hash
	Amount uint64
}

// CostBasis fixes the entry mark of a bet from the smoothed prices at RefHeight.
type CostBasis struct {
	BetID     common.Hash
	RefHeight uint64
	CostBasis uint64
}

// Cashout closes a bet at the mark of RefHeight.
type Cashout struct {
	BetID     common.Hash
	RefHeight uint64
	Mark      uint64
	Payout    uint64
}

// Rekt liquidates a bet whose loss at RefHeight reached its principal.
type Rekt struct {
	BetID     common.Hash
	RefHeight uint64
	Mark      uint64
	Rekter    common.Address
	Reward    uint64
}

func (Refill) Func() Func     { return FuncRefill }
func (Bet) Func() Func        { return FuncBet }
func (AddFunding) Func() Func { return FuncAddFund }
func (CostBasis) Func() Func  { return FuncCostBasis }
func (Cashout) Func() Func    { return FuncCashout }
func (Rekt) Func() Func       { return FuncRekt }

// SignedLeverage is the leverage with its direction applied.
func (b Bet) SignedLeverage() int64 {
	if b.Short {
		return -int64(b.Leverage)
	}
	return int64(b.Leverage)
}

// EncodePayload serializes p as func byte plus RLP body.
func EncodePayload(p Payload) ([]byte, error) {
	body, err := rlp.EncodeToBytes(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.Func(), err)
	}
	return append([]byte{byte(p.Func())}, body...), nil
}

// DecodePayload parses a Prices payload.
func DecodePayload(b []byte) (Payload, error) {
	if len(b) < 2 {
		return nil, errBadPayload
	}
	var (
		p   Payload
		err error
	)
	body := b[1:]
	switch Func(b[0]) {
	case FuncRefill:
		var v Refill
		err = rlp.DecodeBytes(body, &v)
		p = v
	case FuncBet:
		var v Bet
		err = rlp.DecodeBytes(body, &v)
		p = v
	case FuncAddFund:
		var v AddFunding
		err = rlp.DecodeBytes(body, &v)
		p = v
	case FuncCostBasis:
		var v CostBasis
		err = rlp.DecodeBytes(body, &v)
		p = v
	case FuncCashout:
		var v Cashout
		err = rlp.DecodeBytes(body, &v)
		p = v
	case FuncRekt:
		var v Rekt
		err = rlp.DecodeBytes(body, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown func %#02x", errBadPayload, b[0])
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return p, nil
}

// FuncOf returns the func byte of a payload without decoding it.
func FuncOf(payload []byte) Func {
	if len(payload) == 0 {
		return 0
	}
	return Func(payload[0])
}
