package prices

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/types"
)

var _ cc.Contract = (*Contract)(nil)

// IsMyInput reports whether input n is fulfilled under the Prices eval code.
func (c *Contract) IsMyInput(tx *types.Tx, n int) bool {
	return n >= 0 && n < len(tx.Inputs) && tx.Inputs[n].Fulfillment.EvalCode == uint8(c.code())
}

type taggedInput struct {
	index int
	utxo  types.UTXO
}

// txShape is what the validator re-derives from a tx before checking its func.
type txShape struct {
	inputs    []taggedInput
	taggedIn  uint64
	taggedOut uint64
}

// added reports whether the tagged value grew by exactly amount.
func (s *txShape) added(amount uint64) bool {
	return s.taggedOut >= s.taggedIn && s.taggedOut-s.taggedIn == amount
}

// released reports whether the tagged value shrank by exactly amount.
func (s *txShape) released(amount uint64) bool {
	return s.taggedIn >= s.taggedOut && s.taggedIn-s.taggedOut == amount
}

func (c *Contract) shape(ev *cc.Eval, tx *types.Tx) (*txShape, error) {
	s := &txShape{}
	for i, in := range tx.Inputs {
		u, ok := ev.View.GetUTXO(in.Prev)
		if !ok {
			return nil, ev.Reject("input %d spends missing output %s", i, in.Prev)
		}
		if !c.isTagged(u.Output) {
			continue
		}
		if !c.IsMyInput(tx, i) {
			return nil, ev.Reject("input %d spends a prices output without a prices fulfillment", i)
		}
		s.inputs = append(s.inputs, taggedInput{index: i, utxo: u})
		if s.taggedIn, ok = AddAmount(s.taggedIn, u.Output.Value); !ok {
			return nil, ev.Reject("prices input value overflow")
		}
	}
	for _, out := range tx.Outputs {
		if !c.isTagged(out) {
			continue
		}
		var ok bool
		if s.taggedOut, ok = AddAmount(s.taggedOut, out.Value); !ok {
			return nil, ev.Reject("prices output value overflow")
		}
	}
	return s, nil
}

// Validate re-derives every amount of a Prices tx from its inputs, outputs
// and the chain view.
func (c *Contract) Validate(ev *cc.Eval, tx *types.Tx, nIn int) error {
	pl, err := DecodePayload(tx.Payload)
	if err != nil {
		return ev.Reject("%v", err)
	}
	s, err := c.shape(ev, tx)
	if err != nil {
		return err
	}
	switch v := pl.(type) {
	case Refill:
		return c.checkRefill(ev, tx, s, v.Amount)
	case Bet:
		return c.checkBet(ev, tx, s, v)
	case AddFunding:
		if v.BetID == (common.Hash{}) {
			return c.checkRefill(ev, tx, s, v.Amount)
		}
		return c.checkAddFunding(ev, tx, s, v)
	case CostBasis:
		return c.checkCostBasis(ev, tx, s, v)
	case Cashout:
		return c.checkCashout(ev, tx, s, v)
	case Rekt:
		return c.checkRekt(ev, tx, s, v)
	}
	return ev.Reject("unhandled func %s", pl.Func())
}

// checkRefill: only pool outputs, which may merge earlier pool outputs, and
// the pool grows by exactly amount.
func (c *Contract) checkRefill(ev *cc.Eval, tx *types.Tx, s *txShape, amount uint64) error {
	if amount == 0 {
		return ev.Reject("refill amount is zero")
	}
	for _, in := range s.inputs {
		if !c.isPool(in.utxo.Output) {
			return ev.Reject("refill spends non-pool output %s", in.utxo.OutPoint)
		}
	}
	if err := c.onlyPoolOutputs(ev, tx, 0); err != nil {
		return err
	}
	if !s.added(amount) {
		return ev.Reject("pool value in %d out %d does not match refill %d", s.taggedIn, s.taggedOut, amount)
	}
	return nil
}

func (c *Contract) checkBet(ev *cc.Eval, tx *types.Tx, s *txShape, b Bet) error {
	if len(s.inputs) != 0 {
		return ev.Reject("bet spends prices outputs")
	}
	if b.Amount == 0 {
		return ev.Reject("bet amount is zero")
	}
	if b.Leverage == 0 || b.Leverage > uint64(c.cfg.MaxLeverage) {
		return ev.Reject("leverage %d outside 1..%d", b.Leverage, c.cfg.MaxLeverage)
	}
	if _, err := crypto.PubKeyAddress(b.Owner); err != nil {
		return ev.Reject("bad owner key: %v", err)
	}
	if _, err := c.Compile(b.Synthetic); err != nil {
		return ev.Reject("synthetic: %v", err)
	}
	if b.OpenHeight != ev.Height {
		return ev.Reject("open height %d, connecting at %d", b.OpenHeight, ev.Height)
	}
	if len(tx.Outputs) == 0 || !c.isBetFor(tx.Outputs[0], b.Owner) || tx.Outputs[0].Value != b.Amount {
		return ev.Reject("output 0 is not the bet output")
	}
	if s.taggedOut != b.Amount {
		return ev.Reject("extra prices outputs")
	}
	return c.checkHeadroom(ev, Margin(b.Amount, b.SignedLeverage(), c.cfg.MarginDivisor))
}

func (c *Contract) checkHeadroom(ev *cc.Eval, margin uint64) error {
	info, err := c.Fund(ev.View)
	if err != nil {
		return ev.Reject("fund: %v", err)
	}
	if !Fits(margin, info.Headroom) {
		return ev.Reject("margin %d exceeds pool headroom %d", margin, info.Headroom)
	}
	return nil
}

// stateInput loads the bet and checks that exactly one tagged input spends
// its live state output.
func (c *Contract) stateInput(ev *cc.Eval, s *txShape, betID common.Hash) (Position, taggedInput, error) {
	p, err := LoadPosition(ev.View, betID)
	if err != nil {
		return p, taggedInput{}, ev.Reject("%v", err)
	}
	if !p.Open() {
		return p, taggedInput{}, ev.Reject("bet %s is %s", betID.Hex(), p.Phase)
	}
	var (
		state taggedInput
		found bool
	)
	for _, in := range s.inputs {
		if in.utxo.OutPoint == p.Current {
			state, found = in, true
		}
	}
	if !found {
		return p, taggedInput{}, ev.Reject("tx does not spend the state of bet %s", betID.Hex())
	}
	return p, state, nil
}

func (c *Contract) checkAddFunding(ev *cc.Eval, tx *types.Tx, s *txShape, a AddFunding) error {
	if a.Amount == 0 {
		return ev.Reject("funding amount is zero")
	}
	p, _, err := c.stateInput(ev, s, a.BetID)
	if err != nil {
		return err
	}
	if len(s.inputs) != 1 {
		return ev.Reject("addfunding spends %d prices inputs", len(s.inputs))
	}
	if p.HasCostBasis() {
		return ev.Reject("cost basis already set")
	}
	if p.Expired(ev.View.Height(), c.cfg.CostBasisWindow) {
		return ev.Reject("cost basis window closed at %d", p.OpenHeight+c.cfg.CostBasisWindow)
	}
	want, ok := AddAmount(p.Principal, a.Amount)
	if !ok {
		return ev.Reject("funding %d overflows principal %d", a.Amount, p.Principal)
	}
	if len(tx.Outputs) == 0 || !c.isBetFor(tx.Outputs[0], p.Owner) || tx.Outputs[0].Value != want {
		return ev.Reject("output 0 must carry the bet with %d", want)
	}
	if !s.added(a.Amount) {
		return ev.Reject("bet delta does not match funding %d", a.Amount)
	}
	return c.checkHeadroom(ev, ExtraMargin(p, want, c.cfg.MarginDivisor))
}

func (c *Contract) checkCostBasis(ev *cc.Eval, tx *types.Tx, s *txShape, cb CostBasis) error {
	p, _, err := c.stateInput(ev, s, cb.BetID)
	if err != nil {
		return err
	}
	if len(s.inputs) != 1 {
		return ev.Reject("costbasis spends %d prices inputs", len(s.inputs))
	}
	if p.HasCostBasis() {
		return ev.Reject("cost basis already set")
	}
	if ev.Height > p.OpenHeight+c.cfg.CostBasisWindow {
		return ev.Reject("cost basis window closed at %d", p.OpenHeight+c.cfg.CostBasisWindow)
	}
	if ev.Height == 0 || cb.RefHeight != ev.Height-1 {
		return ev.Reject("cost basis must reference height %d", ev.Height-1)
	}
	mark, err := c.Mark(p.Synthetic, cb.RefHeight)
	if err != nil {
		return ev.Reject("%v", err)
	}
	if mark != cb.CostBasis {
		return ev.Reject("cost basis %d does not match mark %d", cb.CostBasis, mark)
	}
	if len(tx.Outputs) == 0 || !c.isBetFor(tx.Outputs[0], p.Owner) || tx.Outputs[0].Value != p.Principal {
		return ev.Reject("output 0 must carry the bet unchanged")
	}
	if !s.added(0) {
		return ev.Reject("costbasis moves prices value")
	}
	return nil
}

// settle runs the checks cashout and rekt share. Any tagged input other than
// the bet state must come from the pool.
func (c *Contract) settle(ev *cc.Eval, s *txShape, betID common.Hash, refHeight, mark uint64) (Position, taggedInput, int64, error) {
	p, state, err := c.stateInput(ev, s, betID)
	if err != nil {
		return p, state, 0, err
	}
	if !p.HasCostBasis() {
		return p, state, 0, ev.Reject("cost basis not set")
	}
	for _, in := range s.inputs {
		if in.index != state.index && !c.isPool(in.utxo.Output) {
			return p, state, 0, ev.Reject("input %d is neither the bet nor the pool", in.index)
		}
	}
	if refHeight < p.CostBasisRef || refHeight >= ev.Height {
		return p, state, 0, ev.Reject("reference height %d outside [%d, %d]", refHeight, p.CostBasisRef, ev.Height-1)
	}
	got, err := c.Mark(p.Synthetic, refHeight)
	if err != nil {
		return p, state, 0, ev.Reject("%v", err)
	}
	if got != mark {
		return p, state, 0, ev.Reject("mark %d does not match %d at height %d", mark, got, refHeight)
	}
	return p, state, Profits(p.Principal, p.Leverage, int64(p.CostBasis), int64(mark)), nil
}

func (c *Contract) checkCashout(ev *cc.Eval, tx *types.Tx, s *txShape, q Cashout) error {
	p, state, profits, err := c.settle(ev, s, q.BetID, q.RefHeight, q.Mark)
	if err != nil {
		return err
	}
	if !bytes.Equal(tx.Inputs[state.index].Fulfillment.PubKey, p.Owner) {
		return ev.Reject("cashout must be signed by the bet owner")
	}
	if q.RefHeight+1+c.cfg.PriceRefLag < ev.Height {
		return ev.Reject("reference height %d is stale", q.RefHeight)
	}
	if IsRekt(p.Principal, profits) {
		return ev.Reject("bet is rekt at height %d", q.RefHeight)
	}
	payout := Payout(p.Principal, profits)
	if payout == 0 || payout != q.Payout {
		return ev.Reject("payout %d, expected %d", q.Payout, payout)
	}
	ownerAddr, err := crypto.PubKeyAddress(p.Owner)
	if err != nil {
		return ev.Reject("owner key: %v", err)
	}
	if len(tx.Outputs) == 0 {
		return ev.Reject("cashout has no outputs")
	}
	out0 := tx.Outputs[0]
	if out0.IsCC() || out0.Address != ownerAddr || out0.Value != payout {
		return ev.Reject("output 0 must pay %d to the owner", payout)
	}
	if err := c.onlyPoolOutputs(ev, tx, 1); err != nil {
		return err
	}
	if !s.released(payout) {
		return ev.Reject("prices value in %d out %d does not release payout %d", s.taggedIn, s.taggedOut, payout)
	}
	return nil
}

func (c *Contract) checkRekt(ev *cc.Eval, tx *types.Tx, s *txShape, r Rekt) error {
	p, _, profits, err := c.settle(ev, s, r.BetID, r.RefHeight, r.Mark)
	if err != nil {
		return err
	}
	if !IsRekt(p.Principal, profits) {
		return ev.Reject("bet is not rekt at height %d", r.RefHeight)
	}
	reward := RektReward(p.Principal, c.cfg.TxFee)
	if reward != r.Reward {
		return ev.Reject("reward %d, expected %d", r.Reward, reward)
	}
	first := 0
	if reward > 0 {
		if len(tx.Outputs) == 0 {
			return ev.Reject("rekt has no outputs")
		}
		out0 := tx.Outputs[0]
		if out0.IsCC() || out0.Address != r.Rekter || out0.Value != reward {
			return ev.Reject("output 0 must pay %d to the rekter", reward)
		}
		first = 1
	}
	if err := c.onlyPoolOutputs(ev, tx, first); err != nil {
		return err
	}
	if !s.released(reward) {
		return ev.Reject("prices value released does not match reward %d", reward)
	}
	return nil
}

// onlyPoolOutputs rejects tagged outputs from index first on that are not
// pool outputs.
func (c *Contract) onlyPoolOutputs(ev *cc.Eval, tx *types.Tx, first int) error {
	for i := first; i < len(tx.Outputs); i++ {
		out := tx.Outputs[i]
		if c.isTagged(out) && !c.isPool(out) {
			return ev.Reject("output %d is a prices output outside the pool", i)
		}
	}
	return nil
}
