package cc

import "fmt"

// EvalCode tags an output with the contract that guards it.
type EvalCode uint8

const (
	EvalAssets        EvalCode = 0xe3
	EvalFaucet        EvalCode = 0xe4
	EvalRewards       EvalCode = 0xe5
	EvalDice          EvalCode = 0xe6
	EvalFSM           EvalCode = 0xe7
	EvalAuction       EvalCode = 0xe8
	EvalLotto         EvalCode = 0xe9
	EvalHeir          EvalCode = 0xea
	EvalChannels      EvalCode = 0xeb
	EvalOracles       EvalCode = 0xec
	EvalPrices        EvalCode = 0xed
	EvalPegs          EvalCode = 0xee
	EvalMarmara       EvalCode = 0xef
	EvalPayments      EvalCode = 0xf0
	EvalGateways      EvalCode = 0xf1
	EvalTokens        EvalCode = 0xf2
	EvalImportGateway EvalCode = 0xf3

	// FirstUser..LastUser is the open range for dynamically added contracts.
	FirstUser EvalCode = 0x10
	LastUser  EvalCode = 0x7f
)

var evalNames = map[EvalCode]string{
	EvalAssets:        "Assets",
	EvalFaucet:        "Faucet",
	EvalRewards:       "Rewards",
	EvalDice:          "Dice",
	EvalFSM:           "FSM",
	EvalAuction:       "Auction",
	EvalLotto:         "Lotto",
	EvalHeir:          "Heir",
	EvalChannels:      "Channels",
	EvalOracles:       "Oracles",
	EvalPrices:        "Prices",
	EvalPegs:          "Pegs",
	EvalMarmara:       "Marmara",
	EvalPayments:      "Payments",
	EvalGateways:      "Gateways",
	EvalTokens:        "Tokens",
	EvalImportGateway: "ImportGateway",
}

func (e EvalCode) IsUser() bool { return e >= FirstUser && e <= LastUser }

func (e EvalCode) IsBuiltin() bool {
	_, ok := evalNames[e]
	return ok
}

func (e EvalCode) Name() string {
	if n, ok := evalNames[e]; ok {
		return n
	}
	if e.IsUser() {
		return fmt.Sprintf("User%02x", uint8(e))
	}
	return fmt.Sprintf("Unknown%02x", uint8(e))
}

func (e EvalCode) String() string { return fmt.Sprintf("%s(0x%02x)", e.Name(), uint8(e)) }

// ParseEvalCode accepts a contract name ("Prices"), hex ("0xed") or decimal form.
func ParseEvalCode(s string) (EvalCode, error) {
	for code, name := range evalNames {
		if name == s {
			return code, nil
		}
	}
	var n uint64
	var err error
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		_, err = fmt.Sscanf(s[2:], "%x", &n)
	} else {
		_, err = fmt.Sscanf(s, "%d", &n)
	}
	if err != nil || n == 0 || n > 0xff {
		return 0, fmt.Errorf("invalid eval code %q", s)
	}
	return EvalCode(n), nil
}
