package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/pricefeed"
	"github.com/uhyunpark/ccledger/pkg/storage"
	"github.com/uhyunpark/ccledger/pkg/types"
)

type pendingTx struct {
	tx     *types.Tx
	height uint64
}

// overlay is a cc.ChainView of committed state plus txs applied on top of it
// that are not yet committed: earlier txs of a block being connected, or the
// mempool. It never writes to the store.
type overlay struct {
	store *storage.Store
	tip   uint64

	txs     map[common.Hash]pendingTx
	order   []common.Hash
	created map[types.OutPoint]types.UTXO
	spent   map[types.OutPoint]common.Hash
	byEval  map[uint8][]common.Hash
	prices  map[uint64][]uint32
}

func newOverlay(store *storage.Store, tip uint64) *overlay {
	return &overlay{
		store:   store,
		tip:     tip,
		txs:     make(map[common.Hash]pendingTx),
		created: make(map[types.OutPoint]types.UTXO),
		spent:   make(map[types.OutPoint]common.Hash),
		byEval:  make(map[uint8][]common.Hash),
		prices:  make(map[uint64][]uint32),
	}
}

func (o *overlay) apply(tx *types.Tx, height uint64) {
	id := tx.ID()
	for _, in := range tx.Inputs {
		o.spent[in.Prev] = id
		delete(o.created, in.Prev)
	}
	tagged := make(map[uint8]bool)
	for i, out := range tx.Outputs {
		op := types.OutPoint{TxID: id, Index: uint32(i)}
		o.created[op] = types.UTXO{OutPoint: op, Output: out, Height: height}
		if out.IsCC() && !tagged[out.EvalCode] {
			tagged[out.EvalCode] = true
			o.byEval[out.EvalCode] = append(o.byEval[out.EvalCode], id)
		}
	}
	o.txs[id] = pendingTx{tx: tx, height: height}
	o.order = append(o.order, id)
}

func (o *overlay) Height() uint64 { return o.tip }

func (o *overlay) GetTx(id common.Hash) (*types.Tx, uint64, error) {
	if p, ok := o.txs[id]; ok {
		return p.tx, p.height, nil
	}
	tx, h, err := o.store.Tx(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, fmt.Errorf("tx %s: %w", id.Hex(), cc.ErrNotFound)
	}
	return tx, h, err
}

func (o *overlay) GetUTXO(op types.OutPoint) (types.UTXO, bool) {
	if _, spent := o.spent[op]; spent {
		return types.UTXO{}, false
	}
	if u, ok := o.created[op]; ok {
		return u, true
	}
	u, ok, err := o.store.UTXO(op)
	if err != nil {
		return types.UTXO{}, false
	}
	return u, ok
}

func (o *overlay) SpentBy(op types.OutPoint) (common.Hash, bool) {
	if id, ok := o.spent[op]; ok {
		return id, true
	}
	id, ok, err := o.store.SpentBy(op)
	if err != nil {
		return common.Hash{}, false
	}
	return id, ok
}

func (o *overlay) UnspentByAddress(addr common.Address) ([]types.UTXO, error) {
	base, err := o.store.UnspentByAddress(addr)
	if err != nil {
		return nil, err
	}
	out := base[:0]
	for _, u := range base {
		if _, spent := o.spent[u.OutPoint]; !spent {
			out = append(out, u)
		}
	}
	for _, id := range o.order {
		tx := o.txs[id].tx
		for i, txo := range tx.Outputs {
			if txo.Address != addr {
				continue
			}
			if u, ok := o.created[types.OutPoint{TxID: id, Index: uint32(i)}]; ok {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (o *overlay) TxsByEval(code cc.EvalCode) ([]common.Hash, error) {
	base, err := o.store.TxsByEval(uint8(code))
	if err != nil {
		return nil, err
	}
	return append(base, o.byEval[uint8(code)]...), nil
}

func (o *overlay) PriceVector(height uint64) ([]uint32, error) {
	if v, ok := o.prices[height]; ok {
		return v, nil
	}
	return readPriceVector(o.store, height)
}

func readPriceVector(store *storage.Store, height uint64) ([]uint32, error) {
	v, err := store.PriceVector(height)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("height %d: %w", height, pricefeed.ErrNoPriceData)
	}
	return v, err
}

var _ cc.ChainView = (*overlay)(nil)
