package cc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/ccledger/pkg/crypto"
)

// userSeedHex is the compiled-in start of the user-range hashchain (eval code 0x10).
const userSeedHex = "57cf49717db4151b4f98c5458d26524b7be9bd55d820d6c4820ff5ec6c1ca0c0"

// Identity is the immutable address set of one contract. The private key is
// public knowledge; ownership is enforced by the validator, not key secrecy.
type Identity struct {
	Code        EvalCode
	Name        string
	PubKey      []byte
	Unspendable common.Address
	SignerAddr  common.Address
	privKey     []byte
}

// PrivKey returns a copy of the contract's well-known private key.
func (id *Identity) PrivKey() []byte { return append([]byte(nil), id.privKey...) }

// Signer returns a signer for the contract key, used to fulfil contract-owned inputs.
func (id *Identity) Signer() (*crypto.Signer, error) {
	return crypto.FromPrivateKeyBytes(id.privKey)
}

// CCAddress is the 1-of-2 condition address shared by the contract and pub.
func (id *Identity) CCAddress(pub []byte) (common.Address, error) {
	return crypto.CCAddress(uint8(id.Code), id.PubKey, pub)
}

// DeriveIdentity recovers a contract identity from its private key.
func DeriveIdentity(code EvalCode, priv []byte) (*Identity, error) {
	s, err := crypto.FromPrivateKeyBytes(priv)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", code, err)
	}
	pub := s.PubKey()
	unspendable, err := crypto.CCAddress(uint8(code), pub)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", code, err)
	}
	return &Identity{
		Code:        code,
		Name:        code.Name(),
		PubKey:      pub,
		Unspendable: unspendable,
		SignerAddr:  s.Address(),
		privKey:     append([]byte(nil), priv...),
	}, nil
}

// Hashchain applies SHA256 to priv steps times.
func Hashchain(priv []byte, steps int) []byte {
	out := append([]byte(nil), priv...)
	for i := 0; i < steps; i++ {
		sum := sha256.Sum256(out)
		out = sum[:]
	}
	return out
}

// UserPrivKey derives the private key of a user-range eval code from the seed.
func UserPrivKey(code EvalCode) ([]byte, error) {
	if !code.IsUser() {
		return nil, fmt.Errorf("eval code %s outside user range", code)
	}
	seed, _ := hex.DecodeString(userSeedHex)
	return Hashchain(seed, int(code-FirstUser)), nil
}

// DeriveUser derives the identity of a user-range eval code.
func DeriveUser(code EvalCode) (*Identity, error) {
	priv, err := UserPrivKey(code)
	if err != nil {
		return nil, err
	}
	return DeriveIdentity(code, priv)
}

// builtinKey is one literal tuple baked into the binary.
type builtinKey struct {
	Code    EvalCode
	PrivHex string
	PubHex  string
}

// verify re-derives the literal and refuses it when the published pubkey differs.
func (b builtinKey) verify() (*Identity, error) {
	priv, err := hex.DecodeString(b.PrivHex)
	if err != nil {
		return nil, ConfigError(b.Code, err, "bad private key literal")
	}
	want, err := hex.DecodeString(b.PubHex)
	if err != nil {
		return nil, ConfigError(b.Code, err, "bad public key literal")
	}
	id, err := DeriveIdentity(b.Code, priv)
	if err != nil {
		return nil, ConfigError(b.Code, err, "derive identity")
	}
	if !bytes.Equal(id.PubKey, want) {
		return nil, ConfigError(b.Code, ErrIdentityMismatch, "pubkey %x != published %s", id.PubKey, b.PubHex)
	}
	return id, nil
}
