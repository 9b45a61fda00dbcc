package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/metrics"
	"github.com/uhyunpark/ccledger/pkg/storage"
	"github.com/uhyunpark/ccledger/pkg/types"
)

type Options struct {
	Logger   *zap.SugaredLogger
	WAL      storage.WAL
	Classify Classifier
}

// Chain is the base ledger: it admits txs to the mempool, connects blocks and
// dispatches every tx touching a condition output to the registered
// validator. mu is the chain-wide critical section.
type Chain struct {
	mu    sync.RWMutex
	cfg   params.Config
	store *storage.Store
	reg   *cc.Registry
	pool  *Mempool
	wal   storage.WAL
	log   *zap.SugaredLogger

	hasTip  bool
	tip     uint64
	tipHash common.Hash
	tipTime uint64

	// pending is committed state plus every mempool tx, in admission order.
	pending *overlay

	subsMu sync.Mutex
	subs   []func(*types.Block)
}

func New(cfg params.Config, store *storage.Store, reg *cc.Registry, opts Options) (*Chain, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.WAL == nil {
		opts.WAL = storage.NewNopWAL()
	}
	c := &Chain{
		cfg:   cfg,
		store: store,
		reg:   reg,
		pool:  NewMempool(opts.Classify),
		wal:   opts.WAL,
		log:   opts.Logger,
	}
	tip, ok, err := store.Tip()
	if err != nil {
		return nil, fmt.Errorf("load tip: %w", err)
	}
	if ok {
		b, err := store.Block(tip)
		if err != nil {
			return nil, fmt.Errorf("load tip block: %w", err)
		}
		c.hasTip, c.tip, c.tipHash, c.tipTime = true, tip, b.Hash(), b.Header.Time
		metrics.ChainHeight.Set(float64(tip))
	}
	c.pending = newOverlay(store, c.tip)
	return c, nil
}

func (c *Chain) Config() params.Config      { return c.cfg }
func (c *Chain) Registry() *cc.Registry     { return c.reg }
func (c *Chain) Store() *storage.Store      { return c.store }
func (c *Chain) Mempool() *Mempool          { return c.pool }
func (c *Chain) Logger() *zap.SugaredLogger { return c.log }

// Tip returns the last connected height and hash.
func (c *Chain) Tip() (uint64, common.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tip, c.tipHash, c.hasTip
}

// TipTime returns the timestamp of the last connected block.
func (c *Chain) TipTime() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipTime
}

// Next returns the height and parent hash of the block to build next.
func (c *Chain) Next() (uint64, common.Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nextHeight(), c.tipHash
}

func (c *Chain) nextHeight() uint64 {
	if !c.hasTip {
		return 0
	}
	return c.tip + 1
}

// PriceVector reads a committed price vector. It does not take the chain
// lock, so validators may call it while a block is being connected.
func (c *Chain) PriceVector(height uint64) ([]uint32, error) {
	return readPriceVector(c.store, height)
}

// Read runs fn against committed state.
func (c *Chain) Read(fn func(v cc.ChainView) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(newOverlay(c.store, c.tip))
}

// ReadPending runs fn against committed state plus the mempool. Builders use
// it so consecutive requests see each other's effects.
func (c *Chain) ReadPending(fn func(v cc.ChainView) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.pending)
}

// ScratchView returns committed state with txs applied at height. Used to
// build txs that spend outputs of a block not yet connected.
func (c *Chain) ScratchView(height uint64, txs ...*types.Tx) cc.ChainView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v := newOverlay(c.store, c.tip)
	for _, tx := range txs {
		v.apply(tx, height)
	}
	return v
}

// Subscribe registers fn to be called after each connected block.
func (c *Chain) Subscribe(fn func(*types.Block)) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, fn)
}

// SubmitTx validates tx against committed state plus the mempool and queues it.
func (c *Chain) SubmitTx(tx *types.Tx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.IsCoinbase() {
		return cc.Rejection(0, "coinbase txs are not relayed")
	}
	id := tx.ID()
	if c.pool.Has(id) {
		return cc.RequestErr(0, "tx %s already pending", id.Hex())
	}
	height := c.nextHeight()
	if err := c.checkTx(c.pending, tx, height, -1); err != nil {
		c.reject(tx, err)
		return err
	}
	c.pending.apply(tx, height)
	c.pool.Push(tx)
	metrics.TxsAccepted.WithLabelValues(evalLabel(tx), funcLabel(tx)).Inc()
	metrics.MempoolSize.Set(float64(c.pool.Len()))
	c.log.Debugw("tx_accepted", "txid", id.Hex(), "height", height)
	return nil
}

func (c *Chain) reject(tx *types.Tx, err error) {
	code := cc.EvalCode(0)
	var e *cc.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	metrics.TxsRejected.WithLabelValues(fmt.Sprintf("%#02x", uint8(code)), cc.KindOf(err).String()).Inc()
	c.log.Warnw("tx_rejected", "txid", tx.ID().Hex(), "eval", code.Name(), "reason", cc.Reason(err))
}

// ProposeTxs returns pending txs that connect cleanly at the next height, in
// bucket order. Txs whose dependencies sort later get a second pass.
func (c *Chain) ProposeTxs(maxBytes int64) []*types.Tx {
	c.mu.RLock()
	defer c.mu.RUnlock()
	height := c.nextHeight()
	v := newOverlay(c.store, c.tip)
	candidates := c.pool.SelectForProposal(maxBytes)
	var out []*types.Tx
	for pass := 0; pass < 2 && len(candidates) > 0; pass++ {
		var deferred []*types.Tx
		for _, tx := range candidates {
			if err := c.checkTx(v, tx, height, len(out)+1); err != nil {
				deferred = append(deferred, tx)
				continue
			}
			v.apply(tx, height)
			out = append(out, tx)
		}
		candidates = deferred
	}
	return out
}

// VerifyBlockTxs dry-runs the txs of a proposal at the next height.
func (c *Chain) VerifyBlockTxs(prices []uint32, txs []*types.Tx) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	height := c.nextHeight()
	v := newOverlay(c.store, c.tip)
	v.prices[height] = prices
	for pos, tx := range txs {
		if err := c.checkTx(v, tx, height, pos); err != nil {
			return fmt.Errorf("tx %d (%s): %w", pos, tx.ID().Hex(), err)
		}
		v.apply(tx, height)
	}
	return nil
}

// ConnectBlock validates b against the tip and commits it. A block with any
// rejected tx is refused as a whole.
func (c *Chain) ConnectBlock(b *types.Block) error {
	c.mu.Lock()
	err := c.connectLocked(b)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.subsMu.Lock()
	subs := append([]func(*types.Block){}, c.subs...)
	c.subsMu.Unlock()
	for _, fn := range subs {
		fn(b)
	}
	return nil
}

func (c *Chain) connectLocked(b *types.Block) error {
	if err := c.checkHeader(b); err != nil {
		return cc.Rejection(0, "%v", err)
	}
	height := b.Height()
	v := newOverlay(c.store, c.tip)
	v.prices[height] = b.Header.Prices
	for pos, tx := range b.Txs {
		if err := c.checkTx(v, tx, height, pos); err != nil {
			c.reject(tx, err)
			return fmt.Errorf("block %d tx %d: %w", height, pos, err)
		}
		v.apply(tx, height)
	}
	if err := c.store.CommitBlock(b); err != nil {
		return fmt.Errorf("commit block %d: %w", height, err)
	}

	hash := b.Hash()
	c.hasTip, c.tip, c.tipHash, c.tipTime = true, height, hash, b.Header.Time
	c.wal.Append(fmt.Sprintf("commit height=%d hash=%s txs=%d", height, hash.Hex(), len(b.Txs)))
	c.recheckPool(b)

	metrics.BlocksConnected.Inc()
	metrics.ChainHeight.Set(float64(height))
	metrics.MempoolSize.Set(float64(c.pool.Len()))
	c.log.Infow("block_committed", "height", height, "hash", hash.Hex(), "txs", len(b.Txs), "mempool", c.pool.Len())
	return nil
}

// recheckPool drops txs included in b and re-validates the rest on top of
// the new tip, dropping those that no longer apply. A tx whose parent sorts
// into a later bucket gets a second pass.
func (c *Chain) recheckPool(b *types.Block) {
	included := make(map[common.Hash]bool, len(b.Txs))
	for _, tx := range b.Txs {
		included[tx.ID()] = true
	}
	height := c.nextHeight()
	pending := newOverlay(c.store, c.tip)
	keep := make(map[common.Hash]bool)
	var candidates []*types.Tx
	for _, tx := range c.pool.All() {
		if !included[tx.ID()] {
			candidates = append(candidates, tx)
		}
	}
	var lastErr map[common.Hash]error
	for pass := 0; pass < 2 && len(candidates) > 0; pass++ {
		var deferred []*types.Tx
		lastErr = make(map[common.Hash]error)
		for _, tx := range candidates {
			if err := c.checkTx(pending, tx, height, -1); err != nil {
				lastErr[tx.ID()] = err
				deferred = append(deferred, tx)
				continue
			}
			pending.apply(tx, height)
			keep[tx.ID()] = true
		}
		candidates = deferred
	}
	c.pool.Retain(func(id common.Hash, _ *types.Tx) bool {
		if err, dropped := lastErr[id]; dropped && !keep[id] {
			c.log.Infow("tx_evicted", "txid", id.Hex(), "reason", cc.Reason(err))
		}
		return keep[id]
	})
	c.pending = pending
}

func evalLabel(tx *types.Tx) string {
	for _, out := range tx.Outputs {
		if out.IsCC() {
			return fmt.Sprintf("%#02x", out.EvalCode)
		}
	}
	return "none"
}

func funcLabel(tx *types.Tx) string {
	if len(tx.Payload) == 0 {
		return "none"
	}
	return string(tx.Payload[:1])
}
