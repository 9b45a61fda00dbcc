package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/types"
)

// Key schema:
//
//	tip                                   -> height of the last committed block
//	blk:<height>                          -> block
//	px:<height>                           -> price vector of the block
//	tx:<txid>                             -> {height, raw tx}
//	utxo:<txid><index>                    -> UTXO
//	spent:<txid><index>                   -> spending txid
//	addr:<address><txid><index>           -> UTXO (unspent outputs only)
//	eval:<code><height><position>         -> txid creating outputs tagged with code
//
// Integers are big endian so prefix scans come back in chain order.
const (
	prefixBlock = "blk:"
	prefixPrice = "px:"
	prefixTx    = "tx:"
	prefixUTXO  = "utxo:"
	prefixSpent = "spent:"
	prefixAddr  = "addr:"
	prefixEval  = "eval:"
)

func kTip() []byte { return []byte("tip") }

func kBlock(height uint64) []byte { return appendUint64([]byte(prefixBlock), height) }
func kPrice(height uint64) []byte { return appendUint64([]byte(prefixPrice), height) }
func kTx(id common.Hash) []byte   { return append([]byte(prefixTx), id[:]...) }

func kUTXO(op types.OutPoint) []byte  { return appendOutPoint([]byte(prefixUTXO), op) }
func kSpent(op types.OutPoint) []byte { return appendOutPoint([]byte(prefixSpent), op) }

func addrPrefix(addr common.Address) []byte { return append([]byte(prefixAddr), addr[:]...) }
func kAddr(addr common.Address, op types.OutPoint) []byte {
	return appendOutPoint(addrPrefix(addr), op)
}

func evalPrefix(code uint8) []byte { return append([]byte(prefixEval), code) }
func kEval(code uint8, height uint64, pos int) []byte {
	k := appendUint64(evalPrefix(code), height)
	return binary.BigEndian.AppendUint32(k, uint32(pos))
}

func appendUint64(b []byte, v uint64) []byte { return binary.BigEndian.AppendUint64(b, v) }

func appendOutPoint(b []byte, op types.OutPoint) []byte {
	b = append(b, op.TxID[:]...)
	return binary.BigEndian.AppendUint32(b, op.Index)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
