package api

// API response types for REST endpoints and WebSocket messages.
// Coin amounts are decimal strings with 8 places; prices are 1e8 fixed point
// rendered the same way.

// ==============================
// REST Response Types
// ==============================

// FundInfo is the state of the Prices funding pool
type FundInfo struct {
	Address  string `json:"address"` // pool (unspendable) address
	Total    string `json:"total"`
	Exposure string `json:"exposure"` // summed margin of open bets
	Headroom string `json:"headroom"` // can be negative when over-committed
	Outputs  int    `json:"outputs"`
	OpenBets int    `json:"openBets"`
}

// TransitionInfo is one tx in the life of a bet
type TransitionInfo struct {
	Func   string `json:"func"`
	TxID   string `json:"txid"`
	Height uint64 `json:"height"`
	Amount string `json:"amount,omitempty"`
}

// ClosingInfo describes how a closed bet ended
type ClosingInfo struct {
	TxID      string `json:"txid"`
	Height    uint64 `json:"height"`
	RefHeight uint64 `json:"refHeight"`
	Mark      string `json:"mark"`
	Paid      string `json:"paid"` // owner payout or rekter reward
	Rekter    string `json:"rekter,omitempty"`
}

// BetInfo is a bet evaluated at a reference height
type BetInfo struct {
	ID           string           `json:"id"`
	Owner        string           `json:"owner"` // compressed pubkey hex
	Synthetic    string           `json:"synthetic"`
	Leverage     int64            `json:"leverage"` // negative = short
	Amount       string           `json:"amount"`
	OpenHeight   uint64           `json:"openHeight"`
	State        string           `json:"state"`
	CostBasis    string           `json:"costBasis,omitempty"`
	CostBasisRef uint64           `json:"costBasisRef,omitempty"`
	RefHeight    uint64           `json:"refHeight"`
	Mark         string           `json:"mark,omitempty"`
	Profits      string           `json:"profits"`
	Equity       string           `json:"equity"`
	Payout       string           `json:"payout"`
	Margin       string           `json:"margin"`
	Rekt         bool             `json:"rekt"`
	MarkError    string           `json:"markError,omitempty"`
	History      []TransitionInfo `json:"history"`
	Closed       *ClosingInfo     `json:"closed,omitempty"`
}

// BetList is the response of the list endpoints
type BetList struct {
	Filter string   `json:"filter"`
	Owner  string   `json:"owner,omitempty"`
	Bets   []string `json:"bets"`
}

// BookEntry aggregates open bets on one synthetic in one direction
type BookEntry struct {
	Synthetic string `json:"synthetic"`
	Side      string `json:"side"` // "long" or "short"
	Bets      int    `json:"bets"`
	Principal string `json:"principal"`
	Exposure  string `json:"exposure"`
	Leverage  uint64 `json:"leverage"` // principal-weighted average
}

// Orderbook is open interest by synthetic plus pool totals
type Orderbook struct {
	Entries []BookEntry `json:"entries"`
	Fund    FundInfo    `json:"fund"`
	Height  uint64      `json:"height"`
}

// IdentityInfo describes the addresses of one eval code
type IdentityInfo struct {
	Code        string `json:"evalcode"`
	Name        string `json:"name"`
	PubKey      string `json:"pubkey,omitempty"`
	PrivKey     string `json:"privkey,omitempty"` // well-known by construction
	Unspendable string `json:"unspendable,omitempty"`
	SignerAddr  string `json:"signerAddress,omitempty"`
	Active      bool   `json:"active"`
	Validator   bool   `json:"validator"`
	Error       string `json:"error,omitempty"`
}

// ChainStatus is the node's view of the chain
type ChainStatus struct {
	Height      uint64 `json:"height"`
	Hash        string `json:"hash"`
	Time        uint64 `json:"time"`
	MempoolSize int    `json:"mempoolSize"`
	Wallet      string `json:"wallet"`
	Balance     string `json:"balance"`
}

// BlockInfo is a committed block
type BlockInfo struct {
	Height uint64   `json:"height"`
	Hash   string   `json:"hash"`
	Parent string   `json:"parent"`
	Time   uint64   `json:"time"`
	Prices []uint32 `json:"prices"`
	Txs    []string `json:"txs"`
}

// ==============================
// REST Request Types
// ==============================

// OpenBetRequest is the payload for POST /api/v1/prices/bets
type OpenBetRequest struct {
	Amount    string `json:"amount"`   // decimal coins
	Leverage  int64  `json:"leverage"` // negative = short
	Synthetic string `json:"synthetic"`
}

// AmountRequest is the payload for funding and refill endpoints
type AmountRequest struct {
	Amount string `json:"amount"`
}

// RektRequest is the payload for POST /api/v1/prices/bets/{id}/rekt
type RektRequest struct {
	RefHeight uint64 `json:"refHeight,omitempty"` // 0 = tip
}

// TxResponse is returned for every submitted tx
type TxResponse struct {
	Status string `json:"status"` // "submitted"
	TxID   string `json:"txid"`
	BetID  string `json:"betId,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["blocks", "bets", "bet:0x..."]
}

// BlockUpdate is broadcast on every committed block
type BlockUpdate struct {
	Type   string   `json:"type"` // "block"
	Height uint64   `json:"height"`
	Hash   string   `json:"hash"`
	Time   uint64   `json:"time"`
	Txs    int      `json:"txs"`
	Prices []uint32 `json:"prices"`
}

// BetUpdate is broadcast when a Prices tx is committed
type BetUpdate struct {
	Type   string `json:"type"` // "bet"
	BetID  string `json:"betId,omitempty"`
	Func   string `json:"func"`
	TxID   string `json:"txid"`
	Height uint64 `json:"height"`
}
