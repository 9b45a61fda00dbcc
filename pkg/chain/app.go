package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/abci"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// App adapts the chain to the abci boundary. The proposer's coinbase pays
// the block reward to PayTo.
type App struct {
	chain *Chain
	payTo common.Address
}

func NewApp(c *Chain, payTo common.Address) *App {
	return &App{chain: c, payTo: payTo}
}

// Coinbase builds the reward tx of a height. The height in the payload keeps
// coinbase ids unique.
func Coinbase(height, value uint64, payTo common.Address) *types.Tx {
	return &types.Tx{
		Outputs: []types.Output{types.NormalOutput(value, payTo)},
		Payload: binary.BigEndian.AppendUint64(nil, height),
	}
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := append([]*types.Tx{Coinbase(req.Height, a.chain.cfg.Chain.BlockReward, a.payTo)}, a.chain.ProposeTxs(req.MaxTxBytes)...)
	raw := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		b, err := types.EncodeTx(tx)
		if err != nil {
			a.chain.log.Warnw("proposal_encode_failed", "txid", tx.ID().Hex(), "err", err)
			continue
		}
		raw = append(raw, b)
	}
	return abci.ResponsePrepareProposal{Txs: raw}
}

func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	txs, err := abci.DecodeTxs(req.Txs)
	if err != nil {
		return abci.ResponseProcessProposal{Reason: err.Error()}
	}
	if next, _ := a.chain.Next(); req.Height != next {
		return abci.ResponseProcessProposal{Reason: fmt.Sprintf("proposal height %d, expected %d", req.Height, next)}
	}
	if err := a.chain.VerifyBlockTxs(req.Prices, txs); err != nil {
		return abci.ResponseProcessProposal{Reason: err.Error()}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	txs, err := abci.DecodeTxs(req.Txs)
	if err != nil {
		return abci.ResponseFinalizeBlock{Err: err}
	}
	b := &types.Block{
		Header: types.Header{
			Height: req.Height,
			Parent: req.Parent,
			Time:   req.Timestamp,
			Prices: req.Prices,
			TxRoot: types.ComputeTxRoot(txs),
		},
		Txs: txs,
	}
	if err := a.chain.ConnectBlock(b); err != nil {
		return abci.ResponseFinalizeBlock{Err: err}
	}
	events := make([]string, 0, len(txs)+1)
	events = append(events, "commit")
	for _, tx := range txs {
		events = append(events, "tx="+tx.ID().Hex())
	}
	return abci.ResponseFinalizeBlock{Events: events, AppHash: b.Hash()}
}

var _ abci.Application = (*App)(nil)

// GenesisBlock assembles block 0: a coinbase of the genesis allocation plus
// extra txs (typically spending that coinbase).
func GenesisBlock(coinbase *types.Tx, timestamp uint64, prices []uint32, extra ...*types.Tx) *types.Block {
	return NewBlock(0, common.Hash{}, timestamp, prices, append([]*types.Tx{coinbase}, extra...)...)
}

// NewBlock assembles a block with its tx root filled in.
func NewBlock(height uint64, parent common.Hash, timestamp uint64, prices []uint32, txs ...*types.Tx) *types.Block {
	return &types.Block{
		Header: types.Header{
			Height: height,
			Parent: parent,
			Time:   timestamp,
			Prices: prices,
			TxRoot: types.ComputeTxRoot(txs),
		},
		Txs: txs,
	}
}
