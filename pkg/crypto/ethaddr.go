// file: pkg/crypto/ethaddr.go
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ccTag prefixes the preimage of every condition address so it can never
// collide with a plain signer address.
const ccTag = 0xcc

// AddressFromUncompressedPub expects 65-byte uncompressed secp256k1 pubkey (0x04 || X || Y).
// Returns EIP-55 checksummed hex string like 0xABCD...
func AddressFromUncompressedPub(pub []byte) string {
	if len(pub) != 65 || pub[0] != 0x04 {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return EIP55(sum[12:])
}

// CCAddress returns the address of a 1-of-N condition output tagged with evalCode.
// preimage: 0xcc || eval || n || pub_1 || ... || pub_n (33-byte compressed keys, in order)
func CCAddress(evalCode uint8, pubs ...[]byte) (common.Address, error) {
	if len(pubs) == 0 || len(pubs) > 255 {
		return common.Address{}, fmt.Errorf("cc address needs 1..255 keys, got %d", len(pubs))
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{ccTag, evalCode, byte(len(pubs))})
	for i, pub := range pubs {
		if len(pub) != 33 || (pub[0] != 0x02 && pub[0] != 0x03) {
			return common.Address{}, fmt.Errorf("key %d is not a compressed public key", i)
		}
		h.Write(pub)
	}
	return common.BytesToAddress(h.Sum(nil)[12:]), nil
}

// EIP55 computes the checksummed hex address string from 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	hash := h.Sum(nil)
	var out = make([]byte, 2+len(hexaddr))
	copy(out, []byte("0x"))
	for i, c := range []byte(hexaddr) {
		if c >= '0' && c <= '9' {
			out[2+i] = c
			continue
		}
		// i>>1 picks the hash byte; even i reads the high nibble
		hb := hash[i>>1]
		nibble := hb & 0x0f
		if i%2 == 0 {
			nibble = hb >> 4
		}
		if nibble >= 8 {
			out[2+i] = byte(strings.ToUpper(string(c))[0])
		} else {
			out[2+i] = c
		}
	}
	return string(out)
}
