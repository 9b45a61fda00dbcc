package cc

import (
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/types"
)

func emptyContracts() params.Contracts {
	return params.Contracts{
		Disabled:         map[uint8]bool{},
		ActivationHeight: map[uint8]uint64{},
		Published:        map[uint8]string{},
	}
}

func TestBuiltinIdentities(t *testing.T) {
	tests := []struct {
		code        EvalCode
		pub         string
		signer      string
		unspendable string
	}{
		{EvalAssets, "02adf84e0e075cf90868bd4e3d34a03420e034719649c41f371fc70d8e33aa2702", "0xd17F22436f06c456A92C2Ba477534a9Ed8804024", "0xBCC7FFE41e64218B0e8A97f2FB66c9Cab2144801"},
		{EvalDice, "039d966927cfdadab3ee6c56da63c21f17ea753dde4b3dfd41487103e24b27e94e", "0x6826C1b5C9AB22eeF8E9b330b08c5ee471533d95", "0xD8E4a1C8Fd588fDf23cE11969EA344a61F629B8D"},
		{EvalPrices, "039894cb054c0032e99e65e715b03799607aa91212a16648d391b6fa2cc52ed0cf", "0x4fcCcF3a79f3E865506F4da3Ca60D65B180dE199", "0x68Be13753aC02F64DA5A622Df098Fa46fC8a7a75"},
		{EvalGateways, "03ea9c062b9652d8eff34879b504eda0717895d27597aaeb60347d65eed96ccb40", "0x70BA3456Fffb503194B453aFBb0BFf897922F5F8", "0x6Ccefb31CB3f1ad96A7561A28d8a4Bb0687AF4cf"},
		{EvalImportGateway, "0397231cfe04ea32d5fafb2206773ec9fba6e15c5a4e86064468bca195f7542714", "0xF9ced37a286FA9Dd475E655eB7D068D0fA27fB85", "0x7EE45548C7B4c1EC496c25070B65672B828dE0D5"},
	}

	r := NewRegistry(emptyContracts())
	_ = r.Init()

	for _, tt := range tests {
		t.Run(tt.code.Name(), func(t *testing.T) {
			id, err := r.Identity(tt.code)
			if err != nil {
				t.Fatalf("Identity: %v", err)
			}
			if hex.EncodeToString(id.PubKey) != tt.pub {
				t.Errorf("pubkey = %x, want %s", id.PubKey, tt.pub)
			}
			if id.SignerAddr.Hex() != tt.signer {
				t.Errorf("signer = %s, want %s", id.SignerAddr.Hex(), tt.signer)
			}
			if id.Unspendable.Hex() != tt.unspendable {
				t.Errorf("unspendable = %s, want %s", id.Unspendable.Hex(), tt.unspendable)
			}
		})
	}
}

func TestOraclesLiteralRefused(t *testing.T) {
	r := NewRegistry(emptyContracts())
	err := r.Init()
	if err == nil {
		t.Fatal("expected init to report the Oracles mismatch")
	}
	if !IsKind(err, KindConfig) || !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("init error = %v, want configuration mismatch", err)
	}
	if _, err := r.Identity(EvalOracles); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("Identity(Oracles) err = %v, want mismatch", err)
	}
	if _, err := r.Identity(EvalGateways); err != nil {
		t.Errorf("Gateways must still initialize: %v", err)
	}
	// Init is idempotent
	if err2 := r.Init(); err2 == nil || err2.Error() != err.Error() {
		t.Errorf("second Init = %v, want %v", err2, err)
	}
}

func TestTamperedLiteralRefused(t *testing.T) {
	table := []builtinKey{
		{EvalPrices, "0a3be75dce06edb7c0b1bee87b5ad499b88ddeacb27e7a529615d2a0c6b98961", "02adf84e0e075cf90868bd4e3d34a03420e034719649c41f371fc70d8e33aa2702"},
	}
	r := newRegistry(emptyContracts(), table)
	if err := r.Init(); err == nil {
		t.Fatal("expected mismatch")
	}
	if err := r.Register(EvalPrices, nopContract{}); !IsKind(err, KindConfig) {
		t.Errorf("Register on refused code = %v, want configuration error", err)
	}
}

func TestPublishedAddressPin(t *testing.T) {
	cfg := emptyContracts()
	cfg.UserCodes = []uint8{0x10, 0x11}
	cfg.Published[0x10] = "0x04FA54f4D0f926fe3A2De8E4b710262FBB2b5705"
	cfg.Published[0x11] = "0x0000000000000000000000000000000000000001"

	r := newRegistry(cfg, nil)
	err := r.Init()
	if err == nil {
		t.Fatal("expected mismatch for 0x11")
	}
	if _, err := r.Identity(0x10); err != nil {
		t.Errorf("0x10 should match its pin: %v", err)
	}
	if _, err := r.Identity(0x11); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("0x11 err = %v, want mismatch", err)
	}
}

func TestUserIdentities(t *testing.T) {
	tests := []struct {
		code        EvalCode
		priv        string
		pub         string
		unspendable string
	}{
		{0x10, "57cf49717db4151b4f98c5458d26524b7be9bd55d820d6c4820ff5ec6c1ca0c0", "032447d97655da079729dc024c61088ea415b22f4c15d4810ddaf2069ac6468d2f", "0x04FA54f4D0f926fe3A2De8E4b710262FBB2b5705"},
		{0x11, "1d20c994aa66a79a265c794c7749da446947f020f07e8e3e9b6c9a98c1513fe6", "0223b2b9d35fb6383bbbc0dd6668825c91713bc21081b9ce33df3d7edbafa88305", "0xc7093F8354F8707271465abdb4074797459e5d4a"},
		{0x12, "41d755ef4cff48185ea64a55fed0633c75cf02c360b2b1f9959fbd8341e8099e", "032d29d6545a2aafad795d9cf50912ecade549137163934dfb2895ebc0e211ce8a", "0x096A1aca649F2b3a10Ac634A476D35434e3641b5"},
		{0x20, "830abfeff98a7b95c0bfa17f1220190d4f20566ce2a6b30dc226ee73685a7979", "0306035b2695121280ddeb5f8b9fab8cfbf5cfd18b4d73a76fcb5ada7ae066cc37", "0x50606A22F209b12a4a2048c5eDE44370Ba690D35"},
		{0x7f, "2a2035fd219bf6a16537c2069507cb7993ec7d40f19acebf5072a44e88567f2c", "023a57a28951cb1488bc7d1e082d77e1705b6a3505ceeab806f8c0ca25dfa2257b", "0x21118595355E560A86F0B954aF34C5c126d001F0"},
	}
	r := newRegistry(emptyContracts(), nil)
	for _, tt := range tests {
		id, err := r.Identity(tt.code)
		if err != nil {
			t.Fatalf("Identity(%s): %v", tt.code, err)
		}
		if hex.EncodeToString(id.PrivKey()) != tt.priv {
			t.Errorf("%s priv = %x", tt.code, id.PrivKey())
		}
		if hex.EncodeToString(id.PubKey) != tt.pub {
			t.Errorf("%s pub = %x", tt.code, id.PubKey)
		}
		if id.Unspendable.Hex() != tt.unspendable {
			t.Errorf("%s unspendable = %s", tt.code, id.Unspendable.Hex())
		}
	}
}

func TestDerivationDeterministic(t *testing.T) {
	for _, code := range []EvalCode{0x10, 0x33, 0x7f} {
		a, err := DeriveUser(code)
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		b, _ := newRegistry(emptyContracts(), nil).Identity(code)
		if a.Unspendable != b.Unspendable || a.SignerAddr != b.SignerAddr || hex.EncodeToString(a.PubKey) != hex.EncodeToString(b.PubKey) {
			t.Errorf("%s: derivations differ", code)
		}
	}
}

func TestHashchainContinuation(t *testing.T) {
	pairs := [][2]EvalCode{{0x10, 0x11}, {0x10, 0x7f}, {0x21, 0x40}, {0x55, 0x56}}
	for _, p := range pairs {
		from, err := UserPrivKey(p[0])
		if err != nil {
			t.Fatalf("priv %s: %v", p[0], err)
		}
		direct, _ := UserPrivKey(p[1])
		continued := Hashchain(from, int(p[1]-p[0]))
		if hex.EncodeToString(continued) != hex.EncodeToString(direct) {
			t.Errorf("continuing %s -> %s differs from direct derivation", p[0], p[1])
		}
	}
}

func TestOutsideUserRange(t *testing.T) {
	r := newRegistry(emptyContracts(), nil)
	for _, code := range []EvalCode{0x0f, 0x80, 0xff} {
		if _, err := r.Identity(code); !errors.Is(err, ErrNotFound) {
			t.Errorf("Identity(%s) err = %v, want not found", code, err)
		}
	}
}

func TestDisabledAndActivation(t *testing.T) {
	cfg := emptyContracts()
	cfg.Disabled[uint8(EvalDice)] = true
	cfg.ActivationHeight[uint8(EvalPrices)] = 50
	r := NewRegistry(cfg)
	_ = r.Init()

	if _, err := r.Identity(EvalDice); !errors.Is(err, ErrDisabled) {
		t.Errorf("disabled Dice err = %v", err)
	}
	if r.Active(EvalDice, 1000) {
		t.Error("disabled code must never be active")
	}
	if r.Active(EvalPrices, 49) || !r.Active(EvalPrices, 50) {
		t.Error("activation height not honoured")
	}
}

type nopContract struct{}

func (nopContract) Validate(*Eval, *types.Tx, int) error { return nil }
func (nopContract) IsMyInput(*types.Tx, int) bool        { return false }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(emptyContracts())
	_ = r.Init()

	if _, id, err := r.Lookup(EvalAssets); !errors.Is(err, ErrNoValidator) || id == nil {
		t.Errorf("identity-only lookup = %v, %v", id, err)
	}
	if err := r.Register(EvalPrices, nopContract{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(EvalPrices, nopContract{}); err == nil {
		t.Error("duplicate registration must fail")
	}
	c, id, err := r.Lookup(EvalPrices)
	if err != nil || c == nil || id.Code != EvalPrices {
		t.Errorf("Lookup(Prices) = %v, %v, %v", c, id, err)
	}
}

func TestConcurrentLazyDerivation(t *testing.T) {
	r := newRegistry(emptyContracts(), nil)
	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.Identity(0x42)
			if err == nil {
				results[i] = id.Unspendable.Hex()
			}
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if results[i] == "" || results[i] != results[0] {
			t.Fatalf("goroutine %d got %q, want %q", i, results[i], results[0])
		}
	}
}

func TestParseEvalCode(t *testing.T) {
	tests := []struct {
		in   string
		want EvalCode
		ok   bool
	}{
		{"Prices", EvalPrices, true},
		{"0xed", EvalPrices, true},
		{"237", EvalPrices, true},
		{"0x10", 0x10, true},
		{"0", 0, false},
		{"bogus", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseEvalCode(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("ParseEvalCode(%q) = %v, %v", tt.in, got, err)
		}
	}
}
