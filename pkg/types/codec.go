package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

func EncodeTx(tx *Tx) ([]byte, error) {
	b, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return b, nil
}

func DecodeTx(b []byte) (*Tx, error) {
	var tx Tx
	if err := rlp.DecodeBytes(b, &tx); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	return &tx, nil
}

// TxID hashes the full encoding, signatures included.
func (tx *Tx) ID() common.Hash {
	b, err := rlp.EncodeToBytes(tx)
	if err != nil {
		panic(fmt.Errorf("encode tx: %w", err))
	}
	return crypto.Keccak256Hash(b)
}

// SigHash is the digest every input signs: the tx with all signatures cleared.
func (tx *Tx) SigHash() common.Hash {
	stripped := *tx
	stripped.Inputs = make([]Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		in.Fulfillment.Sig = nil
		stripped.Inputs[i] = in
	}
	b, err := rlp.EncodeToBytes(&stripped)
	if err != nil {
		panic(fmt.Errorf("encode tx: %w", err))
	}
	return crypto.Keccak256Hash(b)
}

// ComputeTxRoot commits to the ordered tx ids of a block.
func ComputeTxRoot(txs []*Tx) common.Hash {
	ids := make([]common.Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID()
	}
	b, err := rlp.EncodeToBytes(ids)
	if err != nil {
		panic(fmt.Errorf("encode tx ids: %w", err))
	}
	return crypto.Keccak256Hash(b)
}

func (h *Header) Hash() common.Hash {
	b, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(fmt.Errorf("encode header: %w", err))
	}
	return crypto.Keccak256Hash(b)
}

func (b *Block) Hash() common.Hash { return b.Header.Hash() }

func EncodeBlock(b *Block) ([]byte, error) {
	out, err := rlp.EncodeToBytes(b)
	if err != nil {
		return nil, fmt.Errorf("encode block: %w", err)
	}
	return out, nil
}

func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &b, nil
}

func EncodeUTXO(u UTXO) ([]byte, error) {
	return rlp.EncodeToBytes(&u)
}

func DecodeUTXO(data []byte) (UTXO, error) {
	var u UTXO
	err := rlp.DecodeBytes(data, &u)
	return u, err
}
