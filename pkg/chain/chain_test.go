package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/abci"
	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/pricefeed"
	"github.com/uhyunpark/ccledger/pkg/storage"
	"github.com/uhyunpark/ccledger/pkg/types"
	"github.com/uhyunpark/ccledger/pkg/util"
	"github.com/uhyunpark/ccledger/pkg/wallet"
)

type harness struct {
	t     *testing.T
	cfg   params.Config
	reg   *cc.Registry
	chain *Chain
	alice *wallet.Wallet
	clock *util.ManualClock
	prod  *Producer
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return wallet.New(s)
}

func newHarness(t *testing.T, mutate func(*params.Config)) *harness {
	t.Helper()
	cfg := params.Default()
	cfg.Prices.Feeds = []params.Feed{{Name: "BTC_USD", Mult: 10000}}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := cc.NewRegistry(cfg.Contracts)
	_ = reg.Init() // the Oracles literal is refused; every other code is usable

	ch, err := New(cfg, storage.NewMemStore(), reg, Options{})
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	h := &harness{
		t:     t,
		cfg:   cfg,
		reg:   reg,
		chain: ch,
		alice: newWallet(t),
		clock: util.NewManualClock(time.Unix(1700000000, 0)),
	}
	provider := pricefeed.NewScripted(pricefeed.Step{FromHeight: 0, Ticks: []uint32{1000000}})
	ts := uint64(h.clock.Now().Unix())
	genesis := GenesisBlock(Coinbase(0, cfg.Chain.GenesisAlloc, h.alice.Address()), ts, provider.Vector(0, ts))
	if err := ch.ConnectBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	h.prod = &Producer{
		Chain:        ch,
		Bridge:       &abci.Bridge{App: NewApp(ch, h.alice.Address())},
		Provider:     provider,
		Clock:        h.clock,
		MinBlockTime: time.Second,
	}
	return h
}

func (h *harness) mine() *types.Block {
	h.t.Helper()
	h.clock.Advance(time.Minute)
	b, err := h.prod.ProduceBlock()
	if err != nil {
		h.t.Fatalf("produce: %v", err)
	}
	return b
}

func (h *harness) balance(w *wallet.Wallet) uint64 {
	h.t.Helper()
	var bal uint64
	err := h.chain.Read(func(v cc.ChainView) error {
		var err error
		bal, err = w.Balance(v)
		return err
	})
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

// build runs fn against the pending view.
func (h *harness) build(fn func(v cc.ChainView) (*types.Tx, error)) *types.Tx {
	h.t.Helper()
	var tx *types.Tx
	err := h.chain.ReadPending(func(v cc.ChainView) error {
		var err error
		tx, err = fn(v)
		return err
	})
	if err != nil {
		h.t.Fatalf("build: %v", err)
	}
	return tx
}

// fundCC pays a condition output from alice's wallet.
func (h *harness) fundCC(out types.Output) *types.Tx {
	return h.build(func(v cc.ChainView) (*types.Tx, error) {
		tx := &types.Tx{Outputs: []types.Output{out}}
		if err := h.alice.Fund(v, tx, out.Value, h.cfg.Chain.MinTxFee); err != nil {
			return nil, err
		}
		return tx, h.alice.Sign(tx, nil)
	})
}

// spendCC spends output 0 of prev back to alice, fulfilled under code.
func (h *harness) spendCC(prev *types.Tx, code uint8) *types.Tx {
	h.t.Helper()
	tx := &types.Tx{
		Inputs:  []types.Input{{Prev: types.OutPoint{TxID: prev.ID()}, Fulfillment: types.Fulfillment{EvalCode: code}}},
		Outputs: []types.Output{types.NormalOutput(prev.Outputs[0].Value-h.cfg.Chain.MinTxFee, h.alice.Address())},
	}
	if err := h.alice.Sign(tx, nil); err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestTransferAndBlockReward(t *testing.T) {
	h := newHarness(t, nil)
	bob := newWallet(t)
	fee := h.cfg.Chain.MinTxFee

	tx := h.build(func(v cc.ChainView) (*types.Tx, error) {
		return h.alice.Transfer(v, bob.Address(), 5*types.Coin, fee)
	})
	if err := h.chain.SubmitTx(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.chain.SubmitTx(tx); !cc.IsKind(err, cc.KindRequest) {
		t.Errorf("resubmit err = %v, want request error", err)
	}
	b := h.mine()
	if len(b.Txs) != 2 || b.Txs[1].ID() != tx.ID() {
		t.Fatalf("block txs = %d", len(b.Txs))
	}
	if got := h.balance(bob); got != 5*types.Coin {
		t.Errorf("bob balance = %d", got)
	}
	want := h.cfg.Chain.GenesisAlloc - 5*types.Coin - fee + h.cfg.Chain.BlockReward
	if got := h.balance(h.alice); got != want {
		t.Errorf("alice balance = %d, want %d", got, want)
	}
	if h.chain.Mempool().Len() != 0 {
		t.Errorf("mempool still holds %d txs", h.chain.Mempool().Len())
	}
}

func TestSubmitRejections(t *testing.T) {
	h := newHarness(t, nil)
	bob := newWallet(t)
	fee := h.cfg.Chain.MinTxFee

	var tx1, tx2 *types.Tx
	_ = h.chain.Read(func(v cc.ChainView) error {
		tx1, _ = h.alice.Transfer(v, bob.Address(), types.Coin, fee)
		tx2, _ = h.alice.Transfer(v, bob.Address(), 2*types.Coin, fee)
		return nil
	})
	if err := h.chain.SubmitTx(tx1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.chain.SubmitTx(tx2); !cc.IsKind(err, cc.KindConsensus) {
		t.Errorf("double spend err = %v", err)
	}

	lowFee := h.build(func(v cc.ChainView) (*types.Tx, error) {
		return h.alice.Transfer(v, bob.Address(), types.Coin, 0)
	})
	if err := h.chain.SubmitTx(lowFee); err == nil || !strings.Contains(err.Error(), "fee") {
		t.Errorf("low fee err = %v", err)
	}

	tampered := h.build(func(v cc.ChainView) (*types.Tx, error) {
		return h.alice.Transfer(v, bob.Address(), types.Coin, fee)
	})
	tampered.Outputs[0].Value++
	if err := h.chain.SubmitTx(tampered); err == nil || !strings.Contains(err.Error(), "signature") {
		t.Errorf("tampered err = %v", err)
	}

	stolen := h.build(func(v cc.ChainView) (*types.Tx, error) {
		return h.alice.Transfer(v, bob.Address(), types.Coin, fee)
	})
	if err := bob.Sign(stolen, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := h.chain.SubmitTx(stolen); err == nil || !strings.Contains(err.Error(), "does not own") {
		t.Errorf("foreign key err = %v", err)
	}

	if err := h.chain.SubmitTx(Coinbase(5, 1, bob.Address())); !cc.IsKind(err, cc.KindConsensus) {
		t.Errorf("relayed coinbase err = %v", err)
	}
}

type recorder struct {
	nIns   []int
	reject error
}

func (r *recorder) Validate(_ *cc.Eval, _ *types.Tx, nIn int) error {
	r.nIns = append(r.nIns, nIn)
	return r.reject
}

func (r *recorder) IsMyInput(tx *types.Tx, n int) bool {
	return tx.Inputs[n].Fulfillment.EvalCode == 0x10
}

func allEqual(got []int, want int) bool {
	if len(got) == 0 {
		return false
	}
	for _, v := range got {
		if v != want {
			return false
		}
	}
	return true
}

func TestDispatchToRegisteredContract(t *testing.T) {
	h := newHarness(t, nil)
	rec := &recorder{}
	if err := h.reg.Register(0x10, rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := types.CCOutput(0x10, types.Coin, h.alice.PubKey())
	if err != nil {
		t.Fatalf("cc output: %v", err)
	}

	create := h.fundCC(out)
	if err := h.chain.SubmitTx(create); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.mine()
	if !allEqual(rec.nIns, -1) {
		t.Errorf("create dispatch nIn = %v, want all -1", rec.nIns)
	}

	rec.nIns = nil
	spend := h.spendCC(create, 0x10)
	if err := h.chain.SubmitTx(spend); err != nil {
		t.Fatalf("spend: %v", err)
	}
	h.mine()
	if !allEqual(rec.nIns, 0) {
		t.Errorf("spend dispatch nIn = %v, want all 0", rec.nIns)
	}

	rec.reject = errors.New("validator says no")
	again := h.fundCC(out)
	err = h.chain.SubmitTx(again)
	if !cc.IsKind(err, cc.KindConsensus) || !strings.Contains(err.Error(), "validator says no") {
		t.Errorf("rejecting validator err = %v", err)
	}
}

func TestConditionInputRules(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.reg.Register(0x10, &recorder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, _ := types.CCOutput(0x10, types.Coin, h.alice.PubKey())
	create := h.fundCC(out)
	if err := h.chain.SubmitTx(create); err != nil {
		t.Fatalf("create: %v", err)
	}
	h.mine()

	if err := h.chain.SubmitTx(h.spendCC(create, 0x11)); err == nil || !strings.Contains(err.Error(), "fulfillment eval code") {
		t.Errorf("wrong eval code err = %v", err)
	}
	if err := h.chain.SubmitTx(h.spendCC(create, 0)); err == nil {
		t.Error("normal fulfillment accepted on a condition output")
	}

	bob := newWallet(t)
	foreign := &types.Tx{
		Inputs:  []types.Input{{Prev: types.OutPoint{TxID: create.ID()}, Fulfillment: types.Fulfillment{EvalCode: 0x10}}},
		Outputs: []types.Output{types.NormalOutput(types.Coin/2, bob.Address())},
	}
	if err := bob.Sign(foreign, nil); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := h.chain.SubmitTx(foreign); err == nil || !strings.Contains(err.Error(), "not part of the condition") {
		t.Errorf("foreign key err = %v", err)
	}

	forged := out
	forged.Address[0] ^= 1
	if err := h.chain.SubmitTx(h.fundCC(forged)); err == nil || !strings.Contains(err.Error(), "does not match condition") {
		t.Errorf("forged address err = %v", err)
	}
}

func TestIdentityOnlyCodeRejectsSpends(t *testing.T) {
	h := newHarness(t, nil)
	out, _ := types.CCOutput(uint8(cc.EvalAssets), types.Coin, h.alice.PubKey())
	create := h.fundCC(out)
	if err := h.chain.SubmitTx(create); err != nil {
		t.Fatalf("create under identity-only code: %v", err)
	}
	h.mine()
	err := h.chain.SubmitTx(h.spendCC(create, uint8(cc.EvalAssets)))
	if !cc.IsKind(err, cc.KindConsensus) || !strings.Contains(err.Error(), "no validator") {
		t.Errorf("spend err = %v", err)
	}

	oracles, _ := types.CCOutput(uint8(cc.EvalOracles), types.Coin, h.alice.PubKey())
	if err := h.chain.SubmitTx(h.fundCC(oracles)); !errors.Is(err, cc.ErrIdentityMismatch) {
		t.Errorf("refused code err = %v", err)
	}
}

func TestActivationAndDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *params.Config) {
		cfg.Contracts.ActivationHeight[0x10] = 3
		cfg.Contracts.Disabled[0x11] = true
	})
	if err := h.reg.Register(0x10, &recorder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, _ := types.CCOutput(0x10, types.Coin, h.alice.PubKey())
	if err := h.chain.SubmitTx(h.fundCC(out)); err == nil || !strings.Contains(err.Error(), "inactive") {
		t.Errorf("pre-activation err = %v", err)
	}
	h.mine()
	h.mine()
	if err := h.chain.SubmitTx(h.fundCC(out)); err != nil {
		t.Errorf("post-activation submit: %v", err)
	}

	disabled, _ := types.CCOutput(0x11, types.Coin, h.alice.PubKey())
	if err := h.chain.SubmitTx(h.fundCC(disabled)); !cc.IsKind(err, cc.KindConsensus) {
		t.Errorf("disabled code err = %v", err)
	}
}

func TestConnectBlockChecks(t *testing.T) {
	h := newHarness(t, nil)
	height, parent := h.chain.Next()
	ts := h.chain.TipTime() + 60
	good := func() *types.Block {
		return NewBlock(height, parent, ts, []uint32{uint32(ts), 1000000},
			Coinbase(height, h.cfg.Chain.BlockReward, h.alice.Address()))
	}

	b := good()
	b.Header.Parent[0] ^= 1
	if err := h.chain.ConnectBlock(b); err == nil {
		t.Error("wrong parent accepted")
	}
	b = good()
	b.Header.Prices = []uint32{uint32(ts)}
	if err := h.chain.ConnectBlock(b); err == nil {
		t.Error("short price vector accepted")
	}
	b = good()
	b.Header.Prices[0]++
	if err := h.chain.ConnectBlock(b); err == nil {
		t.Error("mismatched price timestamp accepted")
	}
	b = NewBlock(height, parent, ts, []uint32{uint32(ts), 1000000},
		Coinbase(height, h.cfg.Chain.BlockReward+1, h.alice.Address()))
	if err := h.chain.ConnectBlock(b); err == nil || !strings.Contains(err.Error(), "coinbase") {
		t.Errorf("oversized coinbase err = %v", err)
	}
	if tip, _, _ := h.chain.Tip(); tip != 0 {
		t.Fatalf("rejected blocks moved tip to %d", tip)
	}
	if err := h.chain.ConnectBlock(good()); err != nil {
		t.Fatalf("good block: %v", err)
	}
}

func TestMempoolRecheckDropsConflicts(t *testing.T) {
	h := newHarness(t, nil)
	bob := newWallet(t)
	fee := h.cfg.Chain.MinTxFee
	pending := h.build(func(v cc.ChainView) (*types.Tx, error) {
		return h.alice.Transfer(v, bob.Address(), types.Coin, fee)
	})
	if err := h.chain.SubmitTx(pending); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// a block from elsewhere spends the same coin
	var conflict *types.Tx
	_ = h.chain.Read(func(v cc.ChainView) error {
		var err error
		conflict, err = h.alice.Transfer(v, bob.Address(), 3*types.Coin, fee)
		return err
	})
	height, parent := h.chain.Next()
	ts := h.chain.TipTime() + 60
	b := NewBlock(height, parent, ts, []uint32{uint32(ts), 1000000},
		Coinbase(height, h.cfg.Chain.BlockReward, h.alice.Address()), conflict)
	if err := h.chain.ConnectBlock(b); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.chain.Mempool().Len() != 0 {
		t.Errorf("conflicting tx still pending")
	}
	if got := h.balance(bob); got != 3*types.Coin {
		t.Errorf("bob balance = %d", got)
	}
}

func TestPendingChainOfTxs(t *testing.T) {
	h := newHarness(t, nil)
	bob := newWallet(t)
	fee := h.cfg.Chain.MinTxFee
	for i := 0; i < 3; i++ {
		tx := h.build(func(v cc.ChainView) (*types.Tx, error) {
			return h.alice.Transfer(v, bob.Address(), types.Coin, fee)
		})
		if err := h.chain.SubmitTx(tx); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	b := h.mine()
	if len(b.Txs) != 4 {
		t.Fatalf("block carries %d txs, want 4", len(b.Txs))
	}
	if got := h.balance(bob); got != 3*types.Coin {
		t.Errorf("bob balance = %d", got)
	}
}

func TestProcessProposalRejectsBadTxs(t *testing.T) {
	h := newHarness(t, nil)
	app := NewApp(h.chain, h.alice.Address())
	height, _ := h.chain.Next()
	raw, _ := types.EncodeTx(Coinbase(height, h.cfg.Chain.BlockReward*2, h.alice.Address()))
	resp := app.ProcessProposal(abci.RequestProcessProposal{Height: height, Txs: [][]byte{raw}, Prices: []uint32{1, 1}})
	if resp.Accept {
		t.Error("oversized coinbase proposal accepted")
	}
	resp = app.ProcessProposal(abci.RequestProcessProposal{Height: height + 1})
	if resp.Accept {
		t.Error("proposal at the wrong height accepted")
	}
}

func TestMempoolBuckets(t *testing.T) {
	classify := func(tx *types.Tx) Bucket {
		switch string(tx.Payload) {
		case "Q":
			return BucketClosing
		case "B":
			return BucketTransition
		default:
			return BucketFunding
		}
	}
	m := NewMempool(classify)
	q := &types.Tx{Payload: []byte("Q")}
	b := &types.Tx{Payload: []byte("B")}
	f := &types.Tx{Payload: []byte("F")}
	for _, tx := range []*types.Tx{q, b, f} {
		if !m.Push(tx) {
			t.Fatalf("push %s failed", tx.Payload)
		}
	}
	if m.Push(q) {
		t.Error("duplicate push accepted")
	}
	got := m.All()
	if len(got) != 3 || string(got[0].Payload) != "F" || string(got[1].Payload) != "B" || string(got[2].Payload) != "Q" {
		t.Errorf("order = %v", got)
	}
	m.Retain(func(_ common.Hash, tx *types.Tx) bool { return string(tx.Payload) != "B" })
	if m.Len() != 2 || m.Has(b.ID()) {
		t.Errorf("retain left %d txs", m.Len())
	}
}

func TestProducerRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.chain.Subscribe(func(b *types.Block) {
		if b.Height() >= 3 {
			cancel()
		}
	})
	if err := h.prod.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if tip, _, _ := h.chain.Tip(); tip < 3 {
		t.Errorf("tip = %d after run", tip)
	}
}
