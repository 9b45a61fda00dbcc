package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// txRecord is the stored form of a confirmed transaction.
type txRecord struct {
	Height uint64
	Raw    []byte
}

func encodeRLP(v any) ([]byte, error) {
	b, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("rlp encode: %w", err)
	}
	return b, nil
}

func decodeRLP(b []byte, v any) error {
	if err := rlp.DecodeBytes(b, v); err != nil {
		return fmt.Errorf("rlp decode: %w", err)
	}
	return nil
}

func heightValue(h uint64) []byte {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], h)
	return v[:]
}

func parseHeight(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("height value has %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
