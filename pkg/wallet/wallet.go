package wallet

import (
	"fmt"
	"math/big"
	"math/bits"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/crypto"
	"github.com/uhyunpark/ccledger/pkg/types"
)

// Wallet holds the node key and pays for txs out of its normal outputs.
type Wallet struct {
	signer *crypto.Signer
}

func New(s *crypto.Signer) *Wallet { return &Wallet{signer: s} }

// FromHex loads a wallet from a hex private key, or generates a fresh key
// when hexKey is empty.
func FromHex(hexKey string) (*Wallet, error) {
	if hexKey == "" {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		return New(s), nil
	}
	s, err := crypto.FromPrivateKeyHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("wallet key: %w", err)
	}
	return New(s), nil
}

func (w *Wallet) Signer() *crypto.Signer  { return w.signer }
func (w *Wallet) Address() common.Address { return w.signer.Address() }
func (w *Wallet) PubKey() []byte          { return w.signer.PubKey() }

// Coins lists the wallet's spendable normal outputs, oldest first.
func (w *Wallet) Coins(v cc.ChainView) ([]types.UTXO, error) {
	all, err := v.UnspentByAddress(w.Address())
	if err != nil {
		return nil, err
	}
	coins := all[:0]
	for _, u := range all {
		if !u.Output.IsCC() {
			coins = append(coins, u)
		}
	}
	sort.SliceStable(coins, func(i, j int) bool { return coins[i].Height < coins[j].Height })
	return coins, nil
}

func (w *Wallet) Balance(v cc.ChainView) (uint64, error) {
	coins, err := w.Coins(v)
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, u := range coins {
		sum += u.Output.Value
	}
	return sum, nil
}

// Fund adds wallet inputs to tx covering amount plus fee, and a change
// output when something is left. Added inputs are appended after existing
// ones; call Sign once every input is in place.
func (w *Wallet) Fund(v cc.ChainView, tx *types.Tx, amount, fee uint64) error {
	need, carry := bits.Add64(amount, fee, 0)
	if carry != 0 {
		return cc.RequestErr(0, "amount %s plus fee overflows", FormatCoins(amount))
	}
	coins, err := w.Coins(v)
	if err != nil {
		return err
	}
	used := make(map[types.OutPoint]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		used[in.Prev] = true
	}
	var got uint64
	for _, u := range coins {
		if got >= need {
			break
		}
		if used[u.OutPoint] {
			continue
		}
		tx.Inputs = append(tx.Inputs, types.Input{Prev: u.OutPoint})
		got += u.Output.Value
	}
	if got < need {
		return cc.RequestErr(0, "insufficient wallet funds: have %s, need %s", FormatCoins(got), FormatCoins(need))
	}
	if change := got - need; change > 0 {
		tx.Outputs = append(tx.Outputs, types.NormalOutput(change, w.Address()))
	}
	return nil
}

// Sign fulfills every input of tx whose key is not supplied by extra with
// the wallet key. extra maps input index to the signer for contract-owned
// or shared inputs.
func (w *Wallet) Sign(tx *types.Tx, extra map[int]*crypto.Signer) error {
	return tx.SignInputs(func(i int) *crypto.Signer {
		if s, ok := extra[i]; ok {
			return s
		}
		return w.signer
	})
}

// Transfer builds and signs a plain payment.
func (w *Wallet) Transfer(v cc.ChainView, to common.Address, amount, fee uint64) (*types.Tx, error) {
	if amount == 0 {
		return nil, cc.RequestErr(0, "amount must be positive")
	}
	tx := &types.Tx{Outputs: []types.Output{types.NormalOutput(amount, to)}}
	if err := w.Fund(v, tx, amount, fee); err != nil {
		return nil, err
	}
	if err := w.Sign(tx, nil); err != nil {
		return nil, err
	}
	return tx, nil
}

var coinExp = decimal.New(1, 8)

// FormatCoins renders base units as a decimal coin string.
func FormatCoins(units uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -8).StringFixed(8)
}

// ParseCoins parses a decimal coin string into base units.
func ParseCoins(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	units := d.Mul(coinExp)
	if units.IsNegative() || !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q is negative or below one base unit", s)
	}
	if !units.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return units.BigInt().Uint64(), nil
}
