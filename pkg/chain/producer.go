package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/ccledger/pkg/abci"
	"github.com/uhyunpark/ccledger/pkg/pricefeed"
	"github.com/uhyunpark/ccledger/pkg/types"
	"github.com/uhyunpark/ccledger/pkg/util"
)

// Producer is the single-node block loop: it stamps a price vector, asks the
// application for a proposal, and commits it.
type Producer struct {
	Chain        *Chain
	Bridge       *abci.Bridge
	Provider     pricefeed.Provider
	Clock        util.Clock
	MinBlockTime time.Duration
	Logger       *zap.SugaredLogger
}

// ProduceBlock builds and commits one block on top of the tip.
func (p *Producer) ProduceBlock() (*types.Block, error) {
	height, parent := p.Chain.Next()
	ts := uint64(p.Clock.Now().Unix())
	if last := p.Chain.TipTime(); ts < last {
		ts = last
	}
	prices := p.Provider.Vector(height, ts)
	blk, err := p.Bridge.PrepareBlock(parent, height, ts, prices)
	if err != nil {
		return nil, fmt.Errorf("prepare block %d: %w", height, err)
	}
	if _, err := p.Bridge.OnCommit(blk); err != nil {
		return nil, err
	}
	return blk, nil
}

// Run produces blocks until ctx is cancelled, at most one per MinBlockTime.
func (p *Producer) Run(ctx context.Context) error {
	if p.Clock == nil {
		p.Clock = util.RealClock{}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := p.Clock.Now()
		blk, err := p.ProduceBlock()
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warnw("produce_failed", "err", err)
			}
		} else if p.Logger != nil && len(blk.Txs) > 1 {
			p.Logger.Debugw("block_produced", "height", blk.Height(), "txs", len(blk.Txs))
		}

		wait := p.MinBlockTime - p.Clock.Now().Sub(start)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(wait):
		}
	}
}
