package prices

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/chain"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/metrics"
	"github.com/uhyunpark/ccledger/pkg/pricefeed"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// Contract is the Prices contract: leveraged bets on synthetic prices,
// settled against a shared funding pool.
type Contract struct {
	cfg     params.Prices
	id      *cc.Identity
	signer  *crypto.Signer
	sampler *pricefeed.Sampler
	log     *zap.SugaredLogger
	synths  *lru.Cache[string, *Synthetic]
}

func New(cfg params.Prices, id *cc.Identity, sampler *pricefeed.Sampler, log *zap.SugaredLogger) (*Contract, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	signer, err := id.Signer()
	if err != nil {
		return nil, fmt.Errorf("prices signer: %w", err)
	}
	synths, err := lru.New[string, *Synthetic](256)
	if err != nil {
		return nil, err
	}
	return &Contract{cfg: cfg, id: id, signer: signer, sampler: sampler, log: log, synths: synths}, nil
}

func (c *Contract) Identity() *cc.Identity      { return c.id }
func (c *Contract) Sampler() *pricefeed.Sampler { return c.sampler }
func (c *Contract) code() cc.EvalCode           { return c.id.Code }

// Compile parses expr against the configured feeds.
func (c *Contract) Compile(expr string) (*Synthetic, error) {
	if s, ok := c.synths.Get(expr); ok {
		return s, nil
	}
	s, err := ParseSynthetic(expr, c.sampler.Feeds())
	if err != nil {
		return nil, err
	}
	c.synths.Add(expr, s)
	return s, nil
}

// Mark evaluates expr over the smoothed prices at height.
func (c *Contract) Mark(expr string, height uint64) (uint64, error) {
	defer metrics.ObserveSince(metrics.MarkLatency, time.Now())
	s, err := c.Compile(expr)
	if err != nil {
		return 0, err
	}
	mark, err := s.Eval(func(slot int) (int64, error) {
		return c.sampler.Smoothed(height, slot)
	})
	if err != nil {
		return 0, fmt.Errorf("mark %q at %d: %w", expr, height, err)
	}
	return uint64(mark), nil
}

func (c *Contract) poolOutput(value uint64) (types.Output, error) {
	return types.CCOutput(uint8(c.code()), value, c.id.PubKey)
}

func (c *Contract) betOutput(value uint64, owner []byte) (types.Output, error) {
	return types.CCOutput(uint8(c.code()), value, c.id.PubKey, owner)
}

func (c *Contract) isTagged(out types.Output) bool { return out.EvalCode == uint8(c.code()) }

func (c *Contract) isPool(out types.Output) bool {
	return c.isTagged(out) && len(out.PubKeys) == 1 && bytes.Equal(out.PubKeys[0], c.id.PubKey)
}

func (c *Contract) isBetFor(out types.Output, owner []byte) bool {
	return c.isTagged(out) && len(out.PubKeys) == 2 &&
		bytes.Equal(out.PubKeys[0], c.id.PubKey) && bytes.Equal(out.PubKeys[1], owner)
}

// poolCoins lists unspent pool outputs, oldest first.
func (c *Contract) poolCoins(v cc.ChainView) ([]types.UTXO, error) {
	all, err := v.UnspentByAddress(c.id.Unspendable)
	if err != nil {
		return nil, err
	}
	coins := all[:0]
	for _, u := range all {
		if c.isPool(u.Output) {
			coins = append(coins, u)
		}
	}
	sort.SliceStable(coins, func(i, j int) bool { return coins[i].Height < coins[j].Height })
	return coins, nil
}

// Positions loads every bet ever opened, in chain order.
func (c *Contract) Positions(v cc.ChainView) ([]Position, error) {
	ids, err := v.TxsByEval(c.code())
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, id := range ids {
		tx, _, err := v.GetTx(id)
		if err != nil {
			return nil, err
		}
		if FuncOf(tx.Payload) != FuncBet {
			continue
		}
		p, err := LoadPosition(v, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// FundInfo summarizes the funding pool.
type FundInfo struct {
	Total    uint64
	Exposure uint64
	Headroom int64
	Outputs  int
	OpenBets int
}

// Fund sums the pool outputs and the margin of every open bet.
func (c *Contract) Fund(v cc.ChainView) (FundInfo, error) {
	coins, err := c.poolCoins(v)
	if err != nil {
		return FundInfo{}, err
	}
	var info FundInfo
	for _, u := range coins {
		info.Total = satAdd(info.Total, u.Output.Value)
	}
	info.Outputs = len(coins)
	positions, err := c.Positions(v)
	if err != nil {
		return FundInfo{}, err
	}
	for _, p := range positions {
		if p.Open() && !p.Expired(v.Height(), c.cfg.CostBasisWindow) {
			info.Exposure = satAdd(info.Exposure, Margin(p.Principal, p.Leverage, c.cfg.MarginDivisor))
			info.OpenBets++
		}
	}
	info.Headroom = Headroom(info.Total, info.Exposure, c.cfg.MinAvailFundFraction)
	return info, nil
}

// Classify orders Prices txs in the mempool: deposits first, then opens and
// transitions, then closes.
func Classify(tx *types.Tx) chain.Bucket {
	switch FuncOf(tx.Payload) {
	case FuncBet, FuncCostBasis:
		return chain.BucketTransition
	case FuncCashout, FuncRekt:
		return chain.BucketClosing
	default:
		return chain.BucketFunding
	}
}

// Observe records bet metrics for a connected block.
func (c *Contract) Observe(b *types.Block) {
	for _, tx := range b.Txs {
		if len(tx.Payload) == 0 || !c.touches(tx) {
			continue
		}
		pl, err := DecodePayload(tx.Payload)
		if err != nil {
			continue
		}
		txid := tx.ID().Hex()
		switch v := pl.(type) {
		case Bet:
			dir := "long"
			if v.Short {
				dir = "short"
			}
			metrics.BetsOpened.WithLabelValues(dir).Inc()
			c.log.Infow("bet_opened", "bet", txid, "height", b.Height(), "amount", v.Amount, "leverage", v.SignedLeverage(), "synthetic", v.Synthetic)
		case AddFunding:
			if v.BetID == (common.Hash{}) {
				c.log.Infow("fund_refilled", "txid", txid, "height", b.Height(), "amount", v.Amount)
			} else {
				c.log.Infow("bet_funded", "bet", v.BetID.Hex(), "txid", txid, "amount", v.Amount)
			}
		case Refill:
			c.log.Infow("fund_refilled", "txid", txid, "height", b.Height(), "amount", v.Amount)
		case CostBasis:
			c.log.Debugw("bet_costbasis", "bet", v.BetID.Hex(), "ref_height", v.RefHeight, "costbasis", v.CostBasis)
		case Cashout:
			metrics.BetsClosed.WithLabelValues("cashout").Inc()
			c.log.Infow("bet_cashed_out", "bet", v.BetID.Hex(), "height", b.Height(), "mark", v.Mark, "payout", v.Payout)
		case Rekt:
			metrics.BetsClosed.WithLabelValues("rekt").Inc()
			c.log.Infow("bet_rekt", "bet", v.BetID.Hex(), "height", b.Height(), "mark", v.Mark, "rekter", v.Rekter.Hex(), "reward", v.Reward)
		}
	}
}

// UpdateGauges refreshes the pool gauges from v.
func (c *Contract) UpdateGauges(v cc.ChainView) error {
	info, err := c.Fund(v)
	if err != nil {
		return err
	}
	metrics.PoolFunds.Set(float64(info.Total))
	metrics.PoolExposure.Set(float64(info.Exposure))
	return nil
}

func (c *Contract) touches(tx *types.Tx) bool {
	for _, out := range tx.Outputs {
		if c.isTagged(out) {
			return true
		}
	}
	for _, in := range tx.Inputs {
		if in.Fulfillment.EvalCode == uint8(c.code()) {
			return true
		}
	}
	return false
}
