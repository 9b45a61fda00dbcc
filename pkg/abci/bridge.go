package abci

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/types"
)

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height uint64
	Txs    [][]byte
	Prices []uint32
}
type ResponseProcessProposal struct {
	Accept bool
	Reason string
}

type RequestFinalizeBlock struct {
	Height    uint64
	Timestamp uint64 // Unix timestamp in seconds
	Parent    common.Hash
	Prices    []uint32
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Events  []string
	AppHash common.Hash // hash of the committed block
	Err     error
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Bridge turns application proposals into blocks and feeds committed blocks
// back to the application.
type Bridge struct {
	App        Application
	MaxTxBytes int64
}

// PrepareBlock asks the application for txs and assembles the next block.
func (b *Bridge) PrepareBlock(parent common.Hash, height, timestamp uint64, prices []uint32) (*types.Block, error) {
	maxBytes := b.MaxTxBytes
	if maxBytes == 0 {
		maxBytes = 1 << 24
	}
	resp := b.App.PrepareProposal(RequestPrepareProposal{Height: height, MaxTxBytes: maxBytes})
	txs := make([]*types.Tx, 0, len(resp.Txs))
	for i, raw := range resp.Txs {
		tx, err := types.DecodeTx(raw)
		if err != nil {
			return nil, fmt.Errorf("proposal tx %d: %w", i, err)
		}
		txs = append(txs, tx)
	}
	blk := &types.Block{
		Header: types.Header{
			Height: height,
			Parent: parent,
			Time:   timestamp,
			Prices: prices,
			TxRoot: types.ComputeTxRoot(txs),
		},
		Txs: txs,
	}
	return blk, nil
}

// OnCommit runs ProcessProposal then FinalizeBlock for blk.
func (b *Bridge) OnCommit(blk *types.Block) (ResponseFinalizeBlock, error) {
	raw, err := encodeTxs(blk.Txs)
	if err != nil {
		return ResponseFinalizeBlock{}, err
	}
	pp := b.App.ProcessProposal(RequestProcessProposal{Height: blk.Height(), Txs: raw, Prices: blk.Header.Prices})
	if !pp.Accept {
		return ResponseFinalizeBlock{}, fmt.Errorf("proposal %d rejected: %s", blk.Height(), pp.Reason)
	}
	resp := b.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    blk.Height(),
		Timestamp: blk.Header.Time,
		Parent:    blk.Header.Parent,
		Prices:    blk.Header.Prices,
		Txs:       raw,
	})
	if resp.Err != nil {
		return resp, fmt.Errorf("finalize %d: %w", blk.Height(), resp.Err)
	}
	return resp, nil
}

func encodeTxs(txs []*types.Tx) ([][]byte, error) {
	out := make([][]byte, len(txs))
	for i, tx := range txs {
		b, err := types.EncodeTx(tx)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// DecodeTxs decodes a raw tx list.
func DecodeTxs(raw [][]byte) ([]*types.Tx, error) {
	out := make([]*types.Tx, len(raw))
	for i, b := range raw {
		tx, err := types.DecodeTx(b)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		out[i] = tx
	}
	return out, nil
}
