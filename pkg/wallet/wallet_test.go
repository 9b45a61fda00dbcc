package wallet

import (
	"math"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// coinView serves a fixed set of outputs.
type coinView struct {
	cc.ChainView
	utxos []types.UTXO
}

func (v coinView) UnspentByAddress(addr common.Address) ([]types.UTXO, error) {
	var out []types.UTXO
	for _, u := range v.utxos {
		if u.Output.Address == addr {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestFormatParseCoins(t *testing.T) {
	tests := []struct {
		units uint64
		text  string
	}{
		{0, "0.00000000"},
		{1, "0.00000001"},
		{types.Coin, "1.00000000"},
		{123456789012, "1234.56789012"},
	}
	for _, tt := range tests {
		if got := FormatCoins(tt.units); got != tt.text {
			t.Errorf("FormatCoins(%d) = %s, want %s", tt.units, got, tt.text)
		}
		got, err := ParseCoins(tt.text)
		if err != nil || got != tt.units {
			t.Errorf("ParseCoins(%s) = %d, %v", tt.text, got, err)
		}
	}
	for _, bad := range []string{"-1", "0.000000001", "abc", "1e30"} {
		if _, err := ParseCoins(bad); err == nil {
			t.Errorf("ParseCoins(%q) succeeded", bad)
		}
	}
}

func TestFundAddsChange(t *testing.T) {
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	w := New(s)
	v := coinView{utxos: []types.UTXO{
		{OutPoint: types.OutPoint{TxID: common.Hash{2}}, Output: types.NormalOutput(3*types.Coin, w.Address()), Height: 5},
		{OutPoint: types.OutPoint{TxID: common.Hash{1}}, Output: types.NormalOutput(2*types.Coin, w.Address()), Height: 1},
	}}

	tx := &types.Tx{Outputs: []types.Output{types.NormalOutput(types.Coin, common.Address{9})}}
	if err := w.Fund(v, tx, types.Coin, 10000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(tx.Inputs) != 1 || tx.Inputs[0].Prev.TxID != (common.Hash{1}) {
		t.Fatalf("expected the oldest coin only, got %+v", tx.Inputs)
	}
	if len(tx.Outputs) != 2 || tx.Outputs[1].Value != types.Coin-10000 || tx.Outputs[1].Address != w.Address() {
		t.Errorf("change output = %+v", tx.Outputs)
	}
	if err := w.Sign(tx, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := tx.SigHash()
	if !crypto.VerifyPubKey(tx.Inputs[0].Fulfillment.PubKey, h[:], tx.Inputs[0].Fulfillment.Sig) {
		t.Error("signature does not verify")
	}

	big := &types.Tx{}
	if err := w.Fund(v, big, 10*types.Coin, 0); !cc.IsKind(err, cc.KindRequest) {
		t.Errorf("overdraft err = %v", err)
	}
}

func TestFundRejectsOverflowingAmount(t *testing.T) {
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	w := New(s)
	v := coinView{utxos: []types.UTXO{
		{OutPoint: types.OutPoint{TxID: common.Hash{1}}, Output: types.NormalOutput(2*types.Coin, w.Address()), Height: 1},
	}}

	tx := &types.Tx{Outputs: []types.Output{types.NormalOutput(math.MaxUint64, common.Address{9})}}
	err = w.Fund(v, tx, math.MaxUint64, 10000)
	if !cc.IsKind(err, cc.KindRequest) || !strings.Contains(err.Error(), "overflows") {
		t.Fatalf("fund err = %v, want overflow request error", err)
	}
	if len(tx.Inputs) != 0 || len(tx.Outputs) != 1 {
		t.Errorf("tx changed on refusal: %+v", tx)
	}

	if _, err := w.Transfer(v, common.Address{9}, math.MaxUint64-1, 2); !cc.IsKind(err, cc.KindRequest) {
		t.Errorf("transfer err = %v, want request error", err)
	}
}
