package types

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/crypto"
)

func sampleTx(t *testing.T) *Tx {
	t.Helper()
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	cc, err := CCOutput(0xed, 5000, owner.PubKey())
	if err != nil {
		t.Fatalf("cc output: %v", err)
	}
	return &Tx{
		Version: 1,
		Inputs: []Input{{
			Prev:        OutPoint{TxID: common.HexToHash("0x01"), Index: 2},
			Fulfillment: Fulfillment{PubKey: owner.PubKey(), Sig: bytes.Repeat([]byte{7}, 65)},
		}},
		Outputs: []Output{cc, NormalOutput(100, owner.Address())},
		Payload: []byte{'F', 1, 2, 3},
	}
}

func TestTxEncodingKeepsID(t *testing.T) {
	tx := sampleTx(t)
	raw, err := EncodeTx(tx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeTx(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.ID() != tx.ID() {
		t.Errorf("id changed after decode: %s != %s", back.ID().Hex(), tx.ID().Hex())
	}
	if back.Outputs[0].Address != tx.Outputs[0].Address || back.ValueOut() != 5100 {
		t.Errorf("outputs not preserved: %+v", back.Outputs)
	}
}

func TestSigHashIgnoresSignatures(t *testing.T) {
	tx := sampleTx(t)
	before := tx.SigHash()
	id := tx.ID()

	tx.Inputs[0].Fulfillment.Sig = bytes.Repeat([]byte{9}, 65)
	if tx.SigHash() != before {
		t.Error("sighash must not depend on signatures")
	}
	if tx.ID() == id {
		t.Error("txid must commit to signatures")
	}

	tx.Outputs[1].Value++
	if tx.SigHash() == before {
		t.Error("sighash must commit to outputs")
	}
}

func TestBlockHashCommitsToPrices(t *testing.T) {
	tx := sampleTx(t)
	b := &Block{
		Header: Header{Height: 3, Time: 1700000000, Prices: []uint32{1700000000, 650000000}},
		Txs:    []*Tx{tx},
	}
	b.Header.TxRoot = ComputeTxRoot(b.Txs)
	h := b.Hash()

	raw, err := EncodeBlock(b)
	if err != nil {
		t.Fatalf("encode block: %v", err)
	}
	back, err := DecodeBlock(raw)
	if err != nil {
		t.Fatalf("decode block: %v", err)
	}
	if back.Hash() != h {
		t.Error("block hash changed after decode")
	}

	b.Header.Prices[1]++
	if b.Hash() == h {
		t.Error("block hash must commit to the price vector")
	}
}

func TestCCOutput(t *testing.T) {
	if _, err := CCOutput(0, 1, make([]byte, 33)); err == nil {
		t.Error("eval code 0 must be rejected")
	}
	owner, _ := crypto.GenerateKey()
	out, err := CCOutput(0xed, 1, owner.PubKey())
	if err != nil {
		t.Fatalf("cc output: %v", err)
	}
	if !out.IsCC() || !out.HasKey(owner.PubKey()) {
		t.Errorf("unexpected output %+v", out)
	}
}
