package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/types"
)

// Bucket orders pending txs for block proposals.
type Bucket int

const (
	// BucketFunding: plain transfers and deposits.
	BucketFunding Bucket = iota
	// BucketTransition: txs that open or advance contract state.
	BucketTransition
	// BucketClosing: txs that settle contract state.
	BucketClosing
)

// Classifier assigns a tx to a bucket.
type Classifier func(tx *types.Tx) Bucket

func defaultClassifier(*types.Tx) Bucket { return BucketFunding }

type entry struct {
	id   common.Hash
	tx   *types.Tx
	size int64
}

// Mempool keeps three FIFO queues: funding -> transition -> closing.
// Within each bucket txs stay in admission order.
type Mempool struct {
	mu       sync.Mutex
	classify Classifier
	buckets  [3][]entry
	ids      map[common.Hash]Bucket
}

func NewMempool(classify Classifier) *Mempool {
	if classify == nil {
		classify = defaultClassifier
	}
	return &Mempool{classify: classify, ids: make(map[common.Hash]Bucket)}
}

// Push enqueues tx; it reports false if the tx is already pending.
func (m *Mempool) Push(tx *types.Tx) bool {
	id := tx.ID()
	raw, err := types.EncodeTx(tx)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return false
	}
	b := m.classify(tx)
	if b < BucketFunding || b > BucketClosing {
		b = BucketFunding
	}
	m.buckets[b] = append(m.buckets[b], entry{id: id, tx: tx, size: int64(len(raw))})
	m.ids[id] = b
	return true
}

func (m *Mempool) Has(id common.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order. The
// txs stay pending until a block including them is connected.
func (m *Mempool) SelectForProposal(maxBytes int64) []*types.Tx {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Tx
	var used int64
	for _, q := range m.buckets {
		for _, e := range q {
			if maxBytes > 0 && used+e.size > maxBytes {
				return out
			}
			out = append(out, e.tx)
			used += e.size
		}
	}
	return out
}

// All returns every pending tx in bucket order.
func (m *Mempool) All() []*types.Tx { return m.SelectForProposal(0) }

// Retain keeps only the txs for which keep returns true.
func (m *Mempool) Retain(keep func(id common.Hash, tx *types.Tx) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for b := range m.buckets {
		q := m.buckets[b][:0]
		for _, e := range m.buckets[b] {
			if keep(e.id, e.tx) {
				q = append(q, e)
				continue
			}
			delete(m.ids, e.id)
		}
		m.buckets[b] = q
	}
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}
