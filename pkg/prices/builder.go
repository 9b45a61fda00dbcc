package prices

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/types"
	"github.com/uhyunpark/ccledger/pkg/wallet"
)

// Builders construct and sign Prices txs on top of v, paying fees from w.
// They run the same checks the validator will, so a built tx is expected to
// be admitted at the next height.

func (c *Contract) finish(v cc.ChainView, w *wallet.Wallet, tx *types.Tx, pl Payload, amount uint64, contractInputs ...int) (*types.Tx, error) {
	payload, err := EncodePayload(pl)
	if err != nil {
		return nil, err
	}
	tx.Payload = payload
	if err := w.Fund(v, tx, amount, c.cfg.TxFee); err != nil {
		return nil, err
	}
	extra := make(map[int]*crypto.Signer, len(contractInputs))
	for _, i := range contractInputs {
		extra[i] = c.signer
	}
	if err := w.Sign(tx, extra); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Contract) stateIn(p Position) types.Input {
	return types.Input{Prev: p.Current, Fulfillment: types.Fulfillment{EvalCode: uint8(c.code())}}
}

func (c *Contract) load(v cc.ChainView, betID common.Hash) (Position, error) {
	p, err := LoadPosition(v, betID)
	if errors.Is(err, ErrUnknownBet) {
		return p, cc.RequestWrap(c.code(), err)
	}
	if err != nil {
		return p, err
	}
	if !p.Open() {
		return p, cc.RequestErr(c.code(), "bet %s is %s", betID.Hex(), p.Phase)
	}
	return p, nil
}

// Open builds a bet of amount at leverage (negative for short) on expr.
func (c *Contract) Open(v cc.ChainView, w *wallet.Wallet, amount uint64, leverage int64, expr string) (*types.Tx, error) {
	if amount == 0 {
		return nil, cc.RequestErr(c.code(), "amount must be positive")
	}
	mag := leverage
	if mag < 0 {
		mag = -mag
	}
	if mag == 0 || mag > int64(c.cfg.MaxLeverage) {
		return nil, cc.RequestErr(c.code(), "leverage %d outside 1..%d", leverage, c.cfg.MaxLeverage)
	}
	if _, err := c.Compile(expr); err != nil {
		return nil, cc.RequestErr(c.code(), "synthetic %q: %v", expr, err)
	}
	info, err := c.Fund(v)
	if err != nil {
		return nil, err
	}
	if margin := Margin(amount, leverage, c.cfg.MarginDivisor); !Fits(margin, info.Headroom) {
		return nil, cc.SolvencyErr(c.code(), "margin %d exceeds pool headroom %d", margin, info.Headroom)
	}
	out, err := c.betOutput(amount, w.PubKey())
	if err != nil {
		return nil, err
	}
	tx := &types.Tx{Outputs: []types.Output{out}}
	return c.finish(v, w, tx, Bet{
		Owner:      w.PubKey(),
		Amount:     amount,
		Leverage:   uint64(mag),
		Short:      leverage < 0,
		Synthetic:  expr,
		OpenHeight: v.Height() + 1,
	}, amount)
}

// RefillFund deposits amount into the pool.
func (c *Contract) RefillFund(v cc.ChainView, w *wallet.Wallet, amount uint64) (*types.Tx, error) {
	if amount == 0 {
		return nil, cc.RequestErr(c.code(), "amount must be positive")
	}
	out, err := c.poolOutput(amount)
	if err != nil {
		return nil, err
	}
	return c.finish(v, w, &types.Tx{Outputs: []types.Output{out}}, Refill{Amount: amount}, amount)
}

// AddFunding adds amount to a bet without a cost basis. A zero betID
// deposits into the pool instead.
func (c *Contract) AddFunding(v cc.ChainView, w *wallet.Wallet, betID common.Hash, amount uint64) (*types.Tx, error) {
	if amount == 0 {
		return nil, cc.RequestErr(c.code(), "amount must be positive")
	}
	if betID == (common.Hash{}) {
		out, err := c.poolOutput(amount)
		if err != nil {
			return nil, err
		}
		return c.finish(v, w, &types.Tx{Outputs: []types.Output{out}}, AddFunding{Amount: amount}, amount)
	}
	p, err := c.load(v, betID)
	if err != nil {
		return nil, err
	}
	if p.HasCostBasis() {
		return nil, cc.RequestErr(c.code(), "cost basis already set")
	}
	if p.Expired(v.Height(), c.cfg.CostBasisWindow) {
		return nil, cc.RequestErr(c.code(), "cost basis window closed at %d", p.OpenHeight+c.cfg.CostBasisWindow)
	}
	principal, ok := AddAmount(p.Principal, amount)
	if !ok {
		return nil, cc.RequestErr(c.code(), "amount %d overflows bet principal %d", amount, p.Principal)
	}
	info, err := c.Fund(v)
	if err != nil {
		return nil, err
	}
	if extra := ExtraMargin(p, principal, c.cfg.MarginDivisor); !Fits(extra, info.Headroom) {
		return nil, cc.SolvencyErr(c.code(), "extra margin %d exceeds pool headroom %d", extra, info.Headroom)
	}
	out, err := c.betOutput(principal, p.Owner)
	if err != nil {
		return nil, err
	}
	tx := &types.Tx{Inputs: []types.Input{c.stateIn(p)}, Outputs: []types.Output{out}}
	return c.finish(v, w, tx, AddFunding{BetID: betID, Amount: amount}, amount, 0)
}

// SetCostBasis fixes the bet's entry mark at the tip.
func (c *Contract) SetCostBasis(v cc.ChainView, w *wallet.Wallet, betID common.Hash) (*types.Tx, error) {
	p, err := c.load(v, betID)
	if err != nil {
		return nil, err
	}
	if p.HasCostBasis() {
		return nil, cc.RequestErr(c.code(), "cost basis already set at %d", p.CostBasisRef)
	}
	tip := v.Height()
	if tip+1 > p.OpenHeight+c.cfg.CostBasisWindow {
		return nil, cc.RequestErr(c.code(), "cost basis window closed at %d", p.OpenHeight+c.cfg.CostBasisWindow)
	}
	mark, err := c.Mark(p.Synthetic, tip)
	if err != nil {
		return nil, cc.RequestErr(c.code(), "%v", err)
	}
	out, err := c.betOutput(p.Principal, p.Owner)
	if err != nil {
		return nil, err
	}
	tx := &types.Tx{Inputs: []types.Input{c.stateIn(p)}, Outputs: []types.Output{out}}
	return c.finish(v, w, tx, CostBasis{BetID: betID, RefHeight: tip, CostBasis: mark}, 0, 0)
}

// Cashout closes the wallet's bet at the tip mark.
func (c *Contract) Cashout(v cc.ChainView, w *wallet.Wallet, betID common.Hash) (*types.Tx, error) {
	p, err := c.load(v, betID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(p.Owner, w.PubKey()) {
		return nil, cc.RequestErr(c.code(), "only the bet owner can cash out")
	}
	if !p.HasCostBasis() {
		return nil, cc.RequestErr(c.code(), "cost basis not set")
	}
	tip := v.Height()
	mark, err := c.Mark(p.Synthetic, tip)
	if err != nil {
		return nil, cc.RequestErr(c.code(), "%v", err)
	}
	profits := Profits(p.Principal, p.Leverage, int64(p.CostBasis), int64(mark))
	if IsRekt(p.Principal, profits) {
		return nil, cc.RequestErr(c.code(), "bet is rekt at height %d", tip)
	}
	payout := Payout(p.Principal, profits)
	if payout == 0 {
		return nil, cc.RequestErr(c.code(), "payout rounds to zero")
	}
	ownerAddr, err := crypto.PubKeyAddress(p.Owner)
	if err != nil {
		return nil, err
	}

	tx := &types.Tx{
		Inputs:  []types.Input{c.stateIn(p)},
		Outputs: []types.Output{types.NormalOutput(payout, ownerAddr)},
	}
	held := p.Principal
	var poolInputs []int
	if payout > held {
		coins, err := c.poolCoins(v)
		if err != nil {
			return nil, err
		}
		for _, u := range coins {
			if held >= payout {
				break
			}
			poolInputs = append(poolInputs, len(tx.Inputs))
			tx.Inputs = append(tx.Inputs, types.Input{Prev: u.OutPoint, Fulfillment: types.Fulfillment{EvalCode: uint8(c.code())}})
			held += u.Output.Value
		}
		if held < payout {
			return nil, cc.SolvencyErr(c.code(), "pool cannot cover payout %d", payout)
		}
	}
	if change := held - payout; change > 0 {
		out, err := c.poolOutput(change)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	return c.finish(v, w, tx, Cashout{BetID: betID, RefHeight: tip, Mark: mark, Payout: payout}, 0, poolInputs...)
}

// Rekt liquidates a bet whose loss at refHeight consumed its principal. A
// zero refHeight means the tip.
func (c *Contract) Rekt(v cc.ChainView, w *wallet.Wallet, betID common.Hash, refHeight uint64) (*types.Tx, error) {
	p, err := c.load(v, betID)
	if err != nil {
		return nil, err
	}
	if !p.HasCostBasis() {
		return nil, cc.RequestErr(c.code(), "cost basis not set")
	}
	tip := v.Height()
	if refHeight == 0 {
		refHeight = tip
	}
	if refHeight < p.CostBasisRef || refHeight > tip {
		return nil, cc.RequestErr(c.code(), "reference height %d outside [%d, %d]", refHeight, p.CostBasisRef, tip)
	}
	mark, err := c.Mark(p.Synthetic, refHeight)
	if err != nil {
		return nil, cc.RequestErr(c.code(), "%v", err)
	}
	profits := Profits(p.Principal, p.Leverage, int64(p.CostBasis), int64(mark))
	if !IsRekt(p.Principal, profits) {
		return nil, cc.RequestErr(c.code(), "bet is not rekt at height %d", refHeight)
	}
	reward := RektReward(p.Principal, c.cfg.TxFee)
	tx := &types.Tx{Inputs: []types.Input{c.stateIn(p)}}
	if reward > 0 {
		tx.Outputs = append(tx.Outputs, types.NormalOutput(reward, w.Address()))
	}
	if rest := p.Principal - reward; rest > 0 {
		out, err := c.poolOutput(rest)
		if err != nil {
			return nil, err
		}
		tx.Outputs = append(tx.Outputs, out)
	}
	pl := Rekt{BetID: betID, RefHeight: refHeight, Mark: mark, Rekter: w.Address(), Reward: reward}
	return c.finish(v, w, tx, pl, 0, 0)
}
