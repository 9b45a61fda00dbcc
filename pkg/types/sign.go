package types

import (
	"fmt"

	"github.com/uhyunpark/ccledger/pkg/crypto"
)

// SignInputs fulfills every input of tx. signerFor returns the key for input
// i; the input's EvalCode must already be set. Public keys are written first
// because they are covered by the sighash.
func (tx *Tx) SignInputs(signerFor func(i int) *crypto.Signer) error {
	signers := make([]*crypto.Signer, len(tx.Inputs))
	for i := range tx.Inputs {
		s := signerFor(i)
		if s == nil {
			return fmt.Errorf("no signer for input %d", i)
		}
		signers[i] = s
		tx.Inputs[i].Fulfillment.PubKey = s.PubKey()
		tx.Inputs[i].Fulfillment.Sig = nil
	}
	sighash := tx.SigHash()
	for i, s := range signers {
		sig, err := s.Sign(sighash[:])
		if err != nil {
			return fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.Inputs[i].Fulfillment.Sig = sig
	}
	return nil
}
