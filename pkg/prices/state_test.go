package prices

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPayloadCodec(t *testing.T) {
	bet := Bet{Owner: bytes.Repeat([]byte{2}, 33), Amount: 100, Leverage: 10, Short: true, Synthetic: "BTC_USD,1", OpenHeight: 14}
	raw, err := EncodePayload(bet)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if FuncOf(raw) != FuncBet {
		t.Fatalf("func = %s", FuncOf(raw))
	}
	pl, err := DecodePayload(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := pl.(Bet)
	if !ok || got.SignedLeverage() != -10 || got.Synthetic != bet.Synthetic || !bytes.Equal(got.Owner, bet.Owner) {
		t.Errorf("decoded %+v", pl)
	}

	for _, bad := range [][]byte{nil, {'B'}, {'Z', 0xc0}, append([]byte{'Q'}, raw[1:]...)} {
		if _, err := DecodePayload(bad); !errors.Is(err, errBadPayload) {
			t.Errorf("DecodePayload(%x) err = %v", bad, err)
		}
	}
}

func TestPositionTransitions(t *testing.T) {
	id := common.Hash{1}
	open := Opening(id, 14, Bet{Owner: []byte{2}, Amount: 100, Leverage: 10, Synthetic: "BTC_USD,1", OpenHeight: 14})
	if open.Phase != Opened || open.Current.TxID != id || open.Leverage != 10 {
		t.Fatalf("opening = %+v", open)
	}

	funded, err := open.Next(AddFunding{BetID: id, Amount: 50}, common.Hash{2}, 15)
	if err != nil {
		t.Fatalf("addfunding: %v", err)
	}
	if funded.Phase != Funded || funded.Principal != 150 || funded.Current.TxID != (common.Hash{2}) {
		t.Errorf("funded = %+v", funded)
	}
	if len(open.History) != 1 {
		t.Errorf("Next mutated the previous state's history")
	}

	if _, err := funded.Next(Cashout{BetID: id}, common.Hash{3}, 16); !errors.Is(err, errTransition) {
		t.Errorf("cashout without cost basis err = %v", err)
	}
	set, err := funded.Next(CostBasis{BetID: id, RefHeight: 15, CostBasis: 100 * PriceUnit}, common.Hash{3}, 16)
	if err != nil {
		t.Fatalf("costbasis: %v", err)
	}
	if set.Phase != CostBasisSet || !set.HasCostBasis() || set.CostBasisRef != 15 {
		t.Errorf("cost basis state = %+v", set)
	}
	for _, pl := range []Payload{
		CostBasis{BetID: id, RefHeight: 16, CostBasis: 1},
		AddFunding{BetID: id, Amount: 1},
		Rekt{BetID: common.Hash{9}},
		Bet{},
		Refill{Amount: 1},
	} {
		if _, err := set.Next(pl, common.Hash{4}, 17); !errors.Is(err, errTransition) {
			t.Errorf("%s after cost basis err = %v", pl.Func(), err)
		}
	}

	closed, err := set.Next(Cashout{BetID: id, RefHeight: 20, Mark: 110 * PriceUnit, Payout: 199}, common.Hash{5}, 21)
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if closed.Open() || closed.Close.Paid != 199 || len(closed.History) != 4 {
		t.Errorf("closed = %+v", closed)
	}
	if _, err := closed.Next(Rekt{BetID: id}, common.Hash{6}, 22); !errors.Is(err, errTransition) {
		t.Errorf("rekt after cashout err = %v", err)
	}
}

func TestAddFundingTransitionRejectsWrap(t *testing.T) {
	id := common.Hash{1}
	open := Opening(id, 14, Bet{Owner: []byte{2}, Amount: 100, Leverage: 10, Synthetic: "BTC_USD,1", OpenHeight: 14})
	got, err := open.Next(AddFunding{BetID: id, Amount: math.MaxUint64 - 49}, common.Hash{2}, 15)
	if !errors.Is(err, errTransition) {
		t.Fatalf("err = %v, want transition error", err)
	}
	if got.Principal != 100 || got.Phase != Opened {
		t.Errorf("state after refused funding = %+v", got)
	}
}
