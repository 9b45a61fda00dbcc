package chain

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// checkTx runs base validation and contract dispatch for tx at height. pos is
// the position inside a block, or -1 for mempool admission.
func (c *Chain) checkTx(v *overlay, tx *types.Tx, height uint64, pos int) error {
	if err := checkOutputs(tx); err != nil {
		return err
	}
	if tx.IsCoinbase() {
		return c.checkCoinbase(tx, height, pos)
	}

	prevOuts, err := checkInputs(v, tx)
	if err != nil {
		return err
	}

	var in uint64
	for _, u := range prevOuts {
		if in+u.Output.Value < in {
			return cc.Rejection(0, "input value overflow")
		}
		in += u.Output.Value
	}
	out := tx.ValueOut()
	if in < out {
		return cc.Rejection(0, "outputs %d exceed inputs %d", out, in)
	}
	if fee := in - out; fee < c.cfg.Chain.MinTxFee {
		return cc.Rejection(0, "fee %d below minimum %d", fee, c.cfg.Chain.MinTxFee)
	}
	return c.dispatch(v, tx, height, prevOuts)
}

func checkOutputs(tx *types.Tx) error {
	if len(tx.Outputs) == 0 {
		return cc.Rejection(0, "tx has no outputs")
	}
	var sum uint64
	for i, out := range tx.Outputs {
		if out.Value == 0 {
			return cc.Rejection(0, "output %d has zero value", i)
		}
		if sum+out.Value < sum {
			return cc.Rejection(0, "output value overflow")
		}
		sum += out.Value
		if !out.IsCC() {
			if len(out.PubKeys) != 0 {
				return cc.Rejection(0, "output %d: normal output carries condition keys", i)
			}
			continue
		}
		want, err := crypto.CCAddress(out.EvalCode, out.PubKeys...)
		if err != nil {
			return cc.Rejection(cc.EvalCode(out.EvalCode), "output %d: %v", i, err)
		}
		if want != out.Address {
			return cc.Rejection(cc.EvalCode(out.EvalCode), "output %d: address %s does not match condition %s", i, out.Address.Hex(), want.Hex())
		}
	}
	return nil
}

func (c *Chain) checkCoinbase(tx *types.Tx, height uint64, pos int) error {
	if pos != 0 {
		return cc.Rejection(0, "coinbase outside the first block position")
	}
	limit := c.cfg.Chain.BlockReward
	if height == 0 {
		limit = c.cfg.Chain.GenesisAlloc
	}
	if v := tx.ValueOut(); v > limit {
		return cc.Rejection(0, "coinbase pays %d, limit %d", v, limit)
	}
	for i, out := range tx.Outputs {
		if out.IsCC() {
			return cc.Rejection(0, "coinbase output %d is a condition output", i)
		}
	}
	return nil
}

// checkInputs verifies every input spends a live output under a valid
// fulfillment and returns the spent outputs in input order.
func checkInputs(v *overlay, tx *types.Tx) ([]types.UTXO, error) {
	sighash := tx.SigHash()
	seen := make(map[types.OutPoint]bool, len(tx.Inputs))
	prevOuts := make([]types.UTXO, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if seen[in.Prev] {
			return nil, cc.Rejection(0, "input %d: duplicate spend of %s", i, in.Prev)
		}
		seen[in.Prev] = true

		u, ok := v.GetUTXO(in.Prev)
		if !ok {
			return nil, cc.Rejection(0, "input %d: %s missing or spent", i, in.Prev)
		}
		f := in.Fulfillment
		if !crypto.VerifyPubKey(f.PubKey, sighash[:], f.Sig) {
			return nil, cc.Rejection(cc.EvalCode(f.EvalCode), "input %d: bad signature", i)
		}
		if u.Output.IsCC() {
			if f.EvalCode != u.Output.EvalCode {
				return nil, cc.Rejection(cc.EvalCode(u.Output.EvalCode), "input %d: fulfillment eval code %#x", i, f.EvalCode)
			}
			if !u.Output.HasKey(f.PubKey) {
				return nil, cc.Rejection(cc.EvalCode(u.Output.EvalCode), "input %d: key not part of the condition", i)
			}
		} else {
			if f.EvalCode != 0 {
				return nil, cc.Rejection(0, "input %d: condition fulfillment on a normal output", i)
			}
			addr, err := crypto.PubKeyAddress(f.PubKey)
			if err != nil || addr != u.Output.Address {
				return nil, cc.Rejection(0, "input %d: key does not own %s", i, u.Output.Address.Hex())
			}
		}
		prevOuts[i] = u
	}
	return prevOuts, nil
}

type evalCall struct {
	code cc.EvalCode
	nIn  int
}

// dispatch calls the validator of every eval code the tx touches: once per
// code, with the first input spending it, or -1 when the code only appears
// on outputs.
func (c *Chain) dispatch(v *overlay, tx *types.Tx, height uint64, prevOuts []types.UTXO) error {
	var calls []evalCall
	seen := make(map[uint8]bool)
	for i, u := range prevOuts {
		if code := u.Output.EvalCode; code != 0 && !seen[code] {
			seen[code] = true
			calls = append(calls, evalCall{cc.EvalCode(code), i})
		}
	}
	for _, out := range tx.Outputs {
		if code := out.EvalCode; code != 0 && !seen[code] {
			seen[code] = true
			calls = append(calls, evalCall{cc.EvalCode(code), -1})
		}
	}

	for _, call := range calls {
		if !c.reg.Active(call.code, height) {
			return cc.Rejection(call.code, "eval code inactive at height %d", height)
		}
		contract, id, err := c.reg.Lookup(call.code)
		if errors.Is(err, cc.ErrNoValidator) {
			if call.nIn >= 0 {
				return cc.Rejection(call.code, "no validator accepts spends")
			}
			continue
		}
		if err != nil {
			return &cc.Error{Kind: cc.KindConsensus, Code: call.code, Reason: "eval code unavailable", Err: err}
		}
		ev := &cc.Eval{View: v, Height: height, Identity: id}
		if err := contract.Validate(ev, tx, call.nIn); err != nil {
			if cc.KindOf(err) == 0 {
				return &cc.Error{Kind: cc.KindConsensus, Code: call.code, Reason: "validator failed", Err: err}
			}
			return err
		}
	}
	return nil
}

// checkHeader verifies the structural links of a block against the tip.
func (c *Chain) checkHeader(b *types.Block) error {
	h := b.Header
	switch {
	case !c.hasTip && h.Height != 0:
		return fmt.Errorf("first block must be genesis, got height %d", h.Height)
	case c.hasTip && h.Height != c.tip+1:
		return fmt.Errorf("block %d does not extend tip %d", h.Height, c.tip)
	case c.hasTip && h.Parent != c.tipHash:
		return fmt.Errorf("block %d parent %s, tip is %s", h.Height, h.Parent.Hex(), c.tipHash.Hex())
	case c.hasTip && h.Time < c.tipTime:
		return fmt.Errorf("block %d time %d before parent time %d", h.Height, h.Time, c.tipTime)
	}
	if want := types.ComputeTxRoot(b.Txs); h.TxRoot != want {
		return fmt.Errorf("block %d tx root mismatch", h.Height)
	}
	if want := len(c.cfg.Prices.Feeds) + 1; len(h.Prices) != want {
		return fmt.Errorf("block %d price vector width %d, want %d", h.Height, len(h.Prices), want)
	}
	if h.Prices[0] != uint32(h.Time) {
		return fmt.Errorf("block %d price timestamp %d does not match header time %d", h.Height, h.Prices[0], h.Time)
	}
	return nil
}
