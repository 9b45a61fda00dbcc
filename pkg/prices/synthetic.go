package prices

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/uhyunpark/ccledger/pkg/pricefeed"
)

// Opcode flags. The low bits carry a feed slot or a weight.
const (
	MaxPrices = pricefeed.MaxSlots

	OpWeight = MaxPrices * 1
	OpMult   = MaxPrices * 2
	OpDiv    = MaxPrices * 3
	OpInv    = MaxPrices * 4
	OpMDD    = MaxPrices * 5
	OpMMD    = MaxPrices * 6
	OpMMM    = MaxPrices * 7
	OpDDD    = MaxPrices * 8

	opMask = MaxPrices - 1
)

// PriceUnit is 1.0 in the 1e8 fixed point all prices use.
const PriceUnit = 100000000

var unit = big.NewInt(PriceUnit)

var operators = map[string]uint16{
	"!":   OpInv,
	"*":   OpMult,
	"/":   OpDiv,
	"***": OpMMM,
	"**/": OpMMD,
	"*//": OpMDD,
	"///": OpDDD,
}

// Synthetic is a compiled expression.
type Synthetic struct {
	Expr string
	Ops  []uint16
}

// ParseSynthetic compiles a comma separated postfix expression against the
// feed table, checking stack discipline so evaluation cannot underflow.
func ParseSynthetic(expr string, feeds *pricefeed.FeedTable) (*Synthetic, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty synthetic")
	}
	var (
		ops     []uint16
		depth   int
		weights int
	)
	for i, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if slot, ok := feeds.Index(tok); ok {
			ops = append(ops, uint16(slot))
			depth++
			continue
		}
		if op, ok := operators[tok]; ok {
			need := operands(op)
			if depth < need {
				return nil, fmt.Errorf("token %d (%s): stack has %d values, needs %d", i, tok, depth, need)
			}
			depth -= need - 1
			ops = append(ops, op)
			continue
		}
		w, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("token %d: unknown symbol %q", i, tok)
		}
		if w < 1 || w >= MaxPrices {
			return nil, fmt.Errorf("token %d: weight %d outside 1..%d", i, w, MaxPrices-1)
		}
		if depth != 1 {
			return nil, fmt.Errorf("token %d: weight needs exactly one stacked value, have %d", i, depth)
		}
		depth = 0
		weights++
		ops = append(ops, OpWeight|uint16(w))
	}
	if depth != 0 {
		return nil, fmt.Errorf("%d values left unweighted", depth)
	}
	if weights == 0 {
		return nil, fmt.Errorf("synthetic has no weight")
	}
	return &Synthetic{Expr: expr, Ops: ops}, nil
}

func operands(op uint16) int {
	switch op {
	case OpInv:
		return 1
	case OpMult, OpDiv:
		return 2
	default:
		return 3
	}
}

// Eval computes the synthetic price with price(slot) supplying each feed.
// Operands are taken in push order: for "A,B,/" the result is A/B.
func (s *Synthetic) Eval(price func(slot int) (int64, error)) (int64, error) {
	var (
		stack []*big.Int
		acc   = new(big.Int)
		wsum  int64
	)
	pop := func() *big.Int {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	for _, op := range s.Ops {
		switch {
		case op < OpWeight:
			p, err := price(int(op))
			if err != nil {
				return 0, err
			}
			if p <= 0 {
				return 0, fmt.Errorf("feed slot %d has no price", op)
			}
			stack = append(stack, big.NewInt(p))
		case op&^opMask == OpWeight:
			w := int64(op & opMask)
			acc.Add(acc, new(big.Int).Mul(pop(), big.NewInt(w)))
			wsum += w
		default:
			v, err := apply(op, pop, operands(op))
			if err != nil {
				return 0, err
			}
			stack = append(stack, v)
		}
	}
	if wsum == 0 {
		return 0, fmt.Errorf("synthetic has no weight")
	}
	acc.Quo(acc, big.NewInt(wsum))
	if !acc.IsInt64() || acc.Sign() <= 0 {
		return 0, fmt.Errorf("synthetic price %s out of range", acc)
	}
	return acc.Int64(), nil
}

func apply(op uint16, pop func() *big.Int, n int) (*big.Int, error) {
	args := make([]*big.Int, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = pop()
	}
	for _, a := range args {
		if a.Sign() == 0 {
			return nil, fmt.Errorf("zero operand")
		}
	}
	r := new(big.Int)
	switch op {
	case OpInv:
		r.Mul(unit, unit)
		r.Quo(r, args[0])
	case OpMult:
		r.Mul(args[0], args[1])
		r.Quo(r, unit)
	case OpDiv:
		r.Mul(args[0], unit)
		r.Quo(r, args[1])
	case OpMMM:
		r.Mul(args[0], args[1])
		r.Mul(r, args[2])
		r.Quo(r, unit)
		r.Quo(r, unit)
	case OpMMD:
		r.Mul(args[0], args[1])
		r.Quo(r, args[2])
	case OpMDD:
		r.Mul(args[0], unit)
		r.Mul(r, unit)
		r.Quo(r, args[1])
		r.Quo(r, args[2])
	case OpDDD:
		r.Mul(unit, unit)
		r.Mul(r, unit)
		r.Mul(r, unit)
		r.Quo(r, args[0])
		r.Quo(r, args[1])
		r.Quo(r, args[2])
	default:
		return nil, fmt.Errorf("unknown opcode %d", op)
	}
	if r.Sign() == 0 {
		return nil, fmt.Errorf("operation underflows to zero")
	}
	return r, nil
}

// Slots lists the feed slots the expression reads, in order of first use.
func (s *Synthetic) Slots() []int {
	var out []int
	seen := make(map[int]bool)
	for _, op := range s.Ops {
		if op < OpWeight && !seen[int(op)] {
			seen[int(op)] = true
			out = append(out, int(op))
		}
	}
	return out
}
