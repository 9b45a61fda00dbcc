package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/types"
)

// Store is the chain store: blocks, confirmed txs, the UTXO set, spend links,
// the address and eval-code indexes, and per-block price vectors.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store { return &Store{kv: kv} }

// NewMemStore returns a Store over an in-memory backend.
func NewMemStore() *Store { return NewStore(NewMemKV()) }

// OpenPebbleStore opens (or creates) a pebble-backed Store at path.
func OpenPebbleStore(path string) (*Store, error) {
	kv, err := NewPebbleKV(path)
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return NewStore(kv), nil
}

func (s *Store) Close() error { return s.kv.Close() }

// Tip returns the height of the last committed block.
func (s *Store) Tip() (uint64, bool, error) {
	v, err := s.kv.Get(kTip())
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := parseHeight(v)
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

func (s *Store) Block(height uint64) (*types.Block, error) {
	v, err := s.kv.Get(kBlock(height))
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", height, err)
	}
	return types.DecodeBlock(v)
}

func (s *Store) PriceVector(height uint64) ([]uint32, error) {
	v, err := s.kv.Get(kPrice(height))
	if err != nil {
		return nil, fmt.Errorf("price vector %d: %w", height, err)
	}
	var out []uint32
	if err := decodeRLP(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tx returns a confirmed transaction and its height.
func (s *Store) Tx(id common.Hash) (*types.Tx, uint64, error) {
	v, err := s.kv.Get(kTx(id))
	if err != nil {
		return nil, 0, fmt.Errorf("tx %s: %w", id.Hex(), err)
	}
	var rec txRecord
	if err := decodeRLP(v, &rec); err != nil {
		return nil, 0, err
	}
	tx, err := types.DecodeTx(rec.Raw)
	if err != nil {
		return nil, 0, err
	}
	return tx, rec.Height, nil
}

func (s *Store) UTXO(op types.OutPoint) (types.UTXO, bool, error) {
	v, err := s.kv.Get(kUTXO(op))
	if errors.Is(err, ErrNotFound) {
		return types.UTXO{}, false, nil
	}
	if err != nil {
		return types.UTXO{}, false, err
	}
	u, err := types.DecodeUTXO(v)
	if err != nil {
		return types.UTXO{}, false, fmt.Errorf("utxo %s: %w", op, err)
	}
	return u, true, nil
}

// SpentBy returns the txid that consumed op.
func (s *Store) SpentBy(op types.OutPoint) (common.Hash, bool, error) {
	v, err := s.kv.Get(kSpent(op))
	if errors.Is(err, ErrNotFound) {
		return common.Hash{}, false, nil
	}
	if err != nil {
		return common.Hash{}, false, err
	}
	return common.BytesToHash(v), true, nil
}

// UnspentByAddress lists the unspent outputs paying addr, oldest txid order.
func (s *Store) UnspentByAddress(addr common.Address) ([]types.UTXO, error) {
	var out []types.UTXO
	err := s.kv.Scan(addrPrefix(addr), func(_, val []byte) error {
		u, err := types.DecodeUTXO(val)
		if err != nil {
			return fmt.Errorf("address index %s: %w", addr.Hex(), err)
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// TxsByEval lists txs that created outputs tagged with code, in chain order.
func (s *Store) TxsByEval(code uint8) ([]common.Hash, error) {
	var out []common.Hash
	err := s.kv.Scan(evalPrefix(code), func(_, val []byte) error {
		out = append(out, common.BytesToHash(val))
		return nil
	})
	return out, err
}

// CommitBlock applies b on top of the current tip in a single batch. The
// block must already be validated; only structural links are checked here.
func (s *Store) CommitBlock(b *types.Block) error {
	tip, ok, err := s.Tip()
	if err != nil {
		return err
	}
	switch {
	case !ok && b.Height() != 0:
		return fmt.Errorf("first block must have height 0, got %d", b.Height())
	case ok && b.Height() != tip+1:
		return fmt.Errorf("block height %d does not extend tip %d", b.Height(), tip)
	}

	batch := s.kv.NewBatch()
	defer batch.Close()

	for pos, tx := range b.Txs {
		if err := applyTx(batch, tx, b.Height(), pos); err != nil {
			return fmt.Errorf("block %d tx %d: %w", b.Height(), pos, err)
		}
	}

	raw, err := types.EncodeBlock(b)
	if err != nil {
		return err
	}
	if err := batch.Set(kBlock(b.Height()), raw); err != nil {
		return err
	}
	px, err := encodeRLP(b.Header.Prices)
	if err != nil {
		return err
	}
	if err := batch.Set(kPrice(b.Height()), px); err != nil {
		return err
	}
	if err := batch.Set(kTip(), heightValue(b.Height())); err != nil {
		return err
	}
	return batch.Commit()
}

func applyTx(batch Batch, tx *types.Tx, height uint64, pos int) error {
	id := tx.ID()
	for _, in := range tx.Inputs {
		v, err := batch.Get(kUTXO(in.Prev))
		if err != nil {
			return fmt.Errorf("spend %s: %w", in.Prev, err)
		}
		u, err := types.DecodeUTXO(v)
		if err != nil {
			return err
		}
		if err := batch.Delete(kUTXO(in.Prev)); err != nil {
			return err
		}
		if err := batch.Delete(kAddr(u.Output.Address, in.Prev)); err != nil {
			return err
		}
		if err := batch.Set(kSpent(in.Prev), id[:]); err != nil {
			return err
		}
	}

	tagged := make(map[uint8]bool)
	for i, out := range tx.Outputs {
		u := types.UTXO{OutPoint: types.OutPoint{TxID: id, Index: uint32(i)}, Output: out, Height: height}
		v, err := types.EncodeUTXO(u)
		if err != nil {
			return err
		}
		if err := batch.Set(kUTXO(u.OutPoint), v); err != nil {
			return err
		}
		if err := batch.Set(kAddr(out.Address, u.OutPoint), v); err != nil {
			return err
		}
		if out.IsCC() && !tagged[out.EvalCode] {
			tagged[out.EvalCode] = true
			if err := batch.Set(kEval(out.EvalCode, height, pos), id[:]); err != nil {
				return err
			}
		}
	}

	raw, err := types.EncodeTx(tx)
	if err != nil {
		return err
	}
	rec, err := encodeRLP(&txRecord{Height: height, Raw: raw})
	if err != nil {
		return err
	}
	return batch.Set(kTx(id), rec)
}
