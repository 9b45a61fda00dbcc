package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/crypto"
)

// Coin is the number of base units in one coin.
const Coin = 100000000

// OutPoint references a single output of a previous transaction.
type OutPoint struct {
	TxID  common.Hash
	Index uint32
}

func (o OutPoint) String() string { return fmt.Sprintf("%s/%d", o.TxID.Hex(), o.Index) }

// Fulfillment satisfies the spending condition of the referenced output.
// EvalCode is zero for normal outputs.
type Fulfillment struct {
	EvalCode uint8
	PubKey   []byte // 33-byte compressed
	Sig      []byte // 65-byte [R || S || V] over the tx sighash
}

type Input struct {
	Prev        OutPoint
	Fulfillment Fulfillment
}

// Output is either a normal pay-to-address output (EvalCode == 0) or a
// 1-of-N condition output tagged with a contract eval code.
type Output struct {
	Value    uint64
	EvalCode uint8
	PubKeys  [][]byte
	Address  common.Address
}

func (o Output) IsCC() bool { return o.EvalCode != 0 }

// HasKey reports whether pub is one of the keys of a condition output.
func (o Output) HasKey(pub []byte) bool {
	for _, pk := range o.PubKeys {
		if string(pk) == string(pub) {
			return true
		}
	}
	return false
}

// NormalOutput pays value to a signer address.
func NormalOutput(value uint64, addr common.Address) Output {
	return Output{Value: value, Address: addr}
}

// CCOutput builds a 1-of-N condition output over pubs.
func CCOutput(evalCode uint8, value uint64, pubs ...[]byte) (Output, error) {
	if evalCode == 0 {
		return Output{}, fmt.Errorf("cc output needs a non-zero eval code")
	}
	addr, err := crypto.CCAddress(evalCode, pubs...)
	if err != nil {
		return Output{}, err
	}
	keys := make([][]byte, len(pubs))
	for i, pk := range pubs {
		keys[i] = append([]byte(nil), pk...)
	}
	return Output{Value: value, EvalCode: evalCode, PubKeys: keys, Address: addr}, nil
}

type Tx struct {
	Version uint8
	Inputs  []Input
	Outputs []Output
	// Payload carries the structured contract payload; empty for plain transfers.
	Payload []byte
}

func (tx *Tx) IsCoinbase() bool { return len(tx.Inputs) == 0 }

func (tx *Tx) ValueOut() uint64 {
	var sum uint64
	for _, o := range tx.Outputs {
		sum += o.Value
	}
	return sum
}

// UTXO is an unspent output together with its position and confirmation height.
type UTXO struct {
	OutPoint OutPoint
	Output   Output
	Height   uint64
}

type Header struct {
	Height uint64
	Parent common.Hash
	Time   uint64
	// Prices[0] is the timestamp slot, Prices[1..] are feed ticks.
	Prices []uint32
	TxRoot common.Hash
}

type Block struct {
	Header Header
	Txs    []*Tx
}

func (b *Block) Height() uint64 { return b.Header.Height }
