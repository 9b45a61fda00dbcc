package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is the on-disk KV backend.
type PebbleKV struct {
	db *pebble.DB
}

func NewPebbleKV(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

func (s *PebbleKV) Close() error { return s.db.Close() }

func (s *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (s *PebbleKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(bytes.Clone(iter.Key()), bytes.Clone(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleKV) NewBatch() Batch {
	return &pebbleBatch{b: s.db.NewIndexedBatch()}
}

type pebbleBatch struct {
	b *pebble.Batch
}

func (p *pebbleBatch) Get(key []byte) ([]byte, error) {
	val, closer, err := p.b.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pebble batch get: %w", err)
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (p *pebbleBatch) Set(key, val []byte) error { return p.b.Set(key, val, nil) }
func (p *pebbleBatch) Delete(key []byte) error   { return p.b.Delete(key, nil) }
func (p *pebbleBatch) Commit() error             { return p.b.Commit(pebble.Sync) }
func (p *pebbleBatch) Close() error              { return p.b.Close() }

var _ KV = (*PebbleKV)(nil)
