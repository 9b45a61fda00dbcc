package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/cc"
)

type identityOut struct {
	Code        string `json:"evalcode"`
	Name        string `json:"name"`
	PubKey      string `json:"pubkey,omitempty"`
	PrivKey     string `json:"privkey,omitempty"`
	Unspendable string `json:"unspendable,omitempty"`
	SignerAddr  string `json:"signerAddress,omitempty"`
	Error       string `json:"error,omitempty"`
}

func main() {
	var (
		code  = flag.String("code", "", "eval code to print (name, hex or decimal); empty prints every built-in")
		chain = flag.String("hashchain", "", "hex private key to continue a hashchain from")
		steps = flag.Int("steps", 1, "hashchain steps to apply")
		user  = flag.String("user", "", "comma separated user-range eval codes to derive as well")
	)
	flag.Parse()

	if *chain != "" {
		priv, err := hex.DecodeString(strings.TrimPrefix(*chain, "0x"))
		if err != nil || len(priv) != 32 {
			fmt.Fprintf(os.Stderr, "Error: hashchain key must be 32 bytes of hex\n")
			os.Exit(1)
		}
		if *steps < 1 {
			fmt.Fprintf(os.Stderr, "Error: steps must be positive\n")
			os.Exit(1)
		}
		next := cc.Hashchain(priv, *steps)
		fmt.Printf("Hashchain after %d step(s): %x\n", *steps, next)
		id, err := cc.DeriveIdentity(cc.FirstUser, next)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  PubKey: %x\n", id.PubKey)
		fmt.Printf("  Signer: %s\n", id.SignerAddr.Hex())
		return
	}

	cfg := params.Default().Contracts
	var userCodes []uint8
	for _, tok := range strings.Split(*user, ",") {
		if tok = strings.TrimSpace(tok); tok == "" {
			continue
		}
		c, err := cc.ParseEvalCode(tok)
		if err != nil || !c.IsUser() {
			fmt.Fprintf(os.Stderr, "Error: %q is not a user-range eval code\n", tok)
			os.Exit(1)
		}
		userCodes = append(userCodes, uint8(c))
	}
	cfg.UserCodes = userCodes
	reg := cc.NewRegistry(cfg)
	// refused codes are reported per entry below
	_ = reg.Init()

	var codes []cc.EvalCode
	if *code != "" {
		c, err := cc.ParseEvalCode(*code)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		codes = []cc.EvalCode{c}
	} else {
		codes = reg.Codes()
		// refused built-ins have no identity but are still listed
		if reg.Failed(cc.EvalOracles) != nil {
			codes = append(codes, cc.EvalOracles)
		}
	}

	out := make([]identityOut, 0, len(codes))
	for _, c := range codes {
		entry := identityOut{Code: fmt.Sprintf("0x%02x", uint8(c)), Name: c.Name()}
		id, err := reg.Identity(c)
		if err != nil {
			entry.Error = cc.Reason(err)
		} else {
			entry.PubKey = hex.EncodeToString(id.PubKey)
			entry.PrivKey = hex.EncodeToString(id.PrivKey())
			entry.Unspendable = id.Unspendable.Hex()
			entry.SignerAddr = id.SignerAddr.Hex()
		}
		out = append(out, entry)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
