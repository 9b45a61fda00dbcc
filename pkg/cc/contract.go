package cc

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/types"
)

// Contract is the capability the base engine holds for one eval code.
type Contract interface {
	// Validate accepts or rejects tx. nIn is the first input spending an output
	// of this eval code, or -1 when the tx only creates such outputs.
	Validate(ev *Eval, tx *types.Tx, nIn int) error
	// IsMyInput reports whether input n of tx is fulfilled under this contract.
	IsMyInput(tx *types.Tx, n int) bool
}

// ChainView is the read access validators and helpers get to committed chain
// state. During block connect it also reflects earlier txs of the same block.
type ChainView interface {
	// Height is the height of the last connected block.
	Height() uint64
	GetTx(id common.Hash) (*types.Tx, uint64, error)
	GetUTXO(op types.OutPoint) (types.UTXO, bool)
	// SpentBy returns the tx that consumed op, if any.
	SpentBy(op types.OutPoint) (common.Hash, bool)
	UnspentByAddress(addr common.Address) ([]types.UTXO, error)
	// TxsByEval lists, in chain order, txs that created outputs tagged with code.
	TxsByEval(code EvalCode) ([]common.Hash, error)
	// PriceVector returns the price vector embedded in the block at height.
	PriceVector(height uint64) ([]uint32, error)
}

// Eval is the context a validator runs in.
type Eval struct {
	View ChainView
	// Height is the height of the block the tx is being validated for.
	Height   uint64
	Identity *Identity
}

func (ev *Eval) Reject(format string, args ...any) error {
	var code EvalCode
	if ev.Identity != nil {
		code = ev.Identity.Code
	}
	return Rejection(code, format, args...)
}
