package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/chain"
	"github.com/uhyunpark/ccledger/pkg/metrics"
	"github.com/uhyunpark/ccledger/pkg/prices"
	"github.com/uhyunpark/ccledger/pkg/storage"
	"github.com/uhyunpark/ccledger/pkg/types"
	"github.com/uhyunpark/ccledger/pkg/wallet"
)

const defaultFeedSamples = 10

// maxFeedSamples bounds the heights one feeds request may smooth.
const maxFeedSamples = prices.MaxPrices

// Server handles REST API and WebSocket connections
type Server struct {
	chain   *chain.Chain
	prices  *prices.Contract
	wallet  *wallet.Wallet
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	origins []string

	// buildMu serializes build+submit so two requests never fund from the
	// same wallet coins.
	buildMu sync.Mutex
}

// NewServer creates a new API server. Txs built by the POST endpoints are
// paid for and signed by w.
func NewServer(ch *chain.Chain, pc *prices.Contract, w *wallet.Wallet, origins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		chain:   ch,
		prices:  pc,
		wallet:  w,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
		origins: origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Prices pool
	api.HandleFunc("/prices/fund", s.handleGetFund).Methods("GET")
	api.HandleFunc("/prices/fund", s.handleRefillFund).Methods("POST")
	api.HandleFunc("/prices/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/prices/feeds", s.handleGetFeeds).Methods("GET")

	// Bets; /mine must be registered before /{id}
	api.HandleFunc("/prices/bets", s.handleListBets).Methods("GET")
	api.HandleFunc("/prices/bets", s.handleOpenBet).Methods("POST")
	api.HandleFunc("/prices/bets/mine", s.handleMyBets).Methods("GET")
	api.HandleFunc("/prices/bets/{id}", s.handleGetBet).Methods("GET")
	api.HandleFunc("/prices/bets/{id}/funding", s.handleAddFunding).Methods("POST")
	api.HandleFunc("/prices/bets/{id}/costbasis", s.handleSetCostBasis).Methods("POST")
	api.HandleFunc("/prices/bets/{id}/cashout", s.handleCashout).Methods("POST")
	api.HandleFunc("/prices/bets/{id}/rekt", s.handleRekt).Methods("POST")

	// Contracts and chain
	api.HandleFunc("/cc/{eval}", s.handleGetIdentity).Methods("GET")
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/chain/blocks/{height}", s.handleGetBlock).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler wraps the router with CORS and request metrics.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(metrics.Middleware(s.router))
}

// Start starts the hub and serves the API on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// Prices Handlers
// ==============================

func (s *Server) handleGetFund(w http.ResponseWriter, r *http.Request) {
	var info prices.FundInfo
	err := s.chain.Read(func(v cc.ChainView) error {
		var err error
		info, err = s.prices.Fund(v)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, s.fundInfo(info))
}

func (s *Server) handleRefillFund(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	amount, ok := decodeAmount(w, r, &req, &req.Amount)
	if !ok {
		return
	}
	tx, err := s.submit(func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.RefillFund(v, s.wallet, amount)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Infow("fund_refill_submitted", "txid", tx.ID().Hex(), "amount", req.Amount)
	respondJSON(w, TxResponse{Status: "submitted", TxID: tx.ID().Hex()})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	var book *prices.Orderbook
	var height uint64
	err := s.chain.Read(func(v cc.ChainView) error {
		var err error
		height = v.Height()
		book, err = s.prices.Orderbook(v)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := Orderbook{Entries: make([]BookEntry, 0, len(book.Entries)), Fund: s.fundInfo(book.Fund), Height: height}
	for _, e := range book.Entries {
		side := "long"
		if e.Short {
			side = "short"
		}
		resp.Entries = append(resp.Entries, BookEntry{
			Synthetic: e.Synthetic,
			Side:      side,
			Bets:      e.Bets,
			Principal: wallet.FormatCoins(e.Principal),
			Exposure:  wallet.FormatCoins(e.Exposure),
			Leverage:  e.Leverage,
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetFeeds(w http.ResponseWriter, r *http.Request) {
	samples := defaultFeedSamples
	if q := r.URL.Query().Get("samples"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > maxFeedSamples {
			respondError(w, http.StatusBadRequest, "invalid samples", "samples must be 1.."+strconv.Itoa(maxFeedSamples))
			return
		}
		samples = n
	}
	tip, _, ok := s.chain.Tip()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "chain not started", "")
		return
	}
	dump, err := s.prices.Sampler().Dump(tip, samples)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, dump)
}

func (s *Server) handleListBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := parseFilter(q.Get("filter"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid filter", "expected all, open or closed")
		return
	}
	var owner []byte
	if o := q.Get("owner"); o != "" {
		pub, err := hex.DecodeString(strings.TrimPrefix(o, "0x"))
		if err != nil || len(pub) != 33 {
			respondError(w, http.StatusBadRequest, "invalid owner", "expected a compressed public key")
			return
		}
		owner = pub
	}
	s.listBets(w, filter, owner, q.Get("filter"))
}

func (s *Server) handleMyBets(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(r.URL.Query().Get("filter"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid filter", "expected all, open or closed")
		return
	}
	s.listBets(w, filter, s.wallet.PubKey(), r.URL.Query().Get("filter"))
}

func (s *Server) listBets(w http.ResponseWriter, filter prices.ListFilter, owner []byte, label string) {
	var ids []common.Hash
	err := s.chain.Read(func(v cc.ChainView) error {
		var err error
		ids, err = s.prices.List(v, filter, owner)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if label == "" {
		label = "all"
	}
	resp := BetList{Filter: label, Bets: make([]string, len(ids))}
	if len(owner) > 0 {
		resp.Owner = hex.EncodeToString(owner)
	}
	for i, id := range ids {
		resp.Bets[i] = id.Hex()
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var height uint64
	if q := r.URL.Query().Get("height"); q != "" {
		h, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid height", q)
			return
		}
		height = h
	}
	var info *prices.BetInfo
	err := s.chain.Read(func(v cc.ChainView) error {
		var err error
		info, err = s.prices.Info(v, id, height)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, betInfo(info))
}

func (s *Server) handleOpenBet(w http.ResponseWriter, r *http.Request) {
	var req OpenBetRequest
	amount, ok := decodeAmount(w, r, &req, &req.Amount)
	if !ok {
		return
	}
	tx, err := s.submit(func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.Open(v, s.wallet, amount, req.Leverage, req.Synthetic)
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	id := tx.ID().Hex()
	s.log.Infow("bet_submitted", "bet", id, "amount", req.Amount, "leverage", req.Leverage, "synthetic", req.Synthetic)
	respondJSON(w, TxResponse{Status: "submitted", TxID: id, BetID: id})
}

func (s *Server) handleAddFunding(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	amount, ok := decodeAmount(w, r, &req, &req.Amount)
	if !ok {
		return
	}
	s.transition(w, id, "addfunding", func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.AddFunding(v, s.wallet, id, amount)
	})
}

func (s *Server) handleSetCostBasis(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	s.transition(w, id, "costbasis", func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.SetCostBasis(v, s.wallet, id)
	})
}

func (s *Server) handleCashout(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	s.transition(w, id, "cashout", func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.Cashout(v, s.wallet, id)
	})
}

func (s *Server) handleRekt(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req RektRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	s.transition(w, id, "rekt", func(v cc.ChainView) (*types.Tx, error) {
		return s.prices.Rekt(v, s.wallet, id, req.RefHeight)
	})
}

func (s *Server) transition(w http.ResponseWriter, id common.Hash, op string, build func(v cc.ChainView) (*types.Tx, error)) {
	tx, err := s.submit(build)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Infow("bet_transition_submitted", "bet", id.Hex(), "op", op, "txid", tx.ID().Hex())
	respondJSON(w, TxResponse{Status: "submitted", TxID: tx.ID().Hex(), BetID: id.Hex()})
}

// submit builds against committed state plus the mempool, then admits the tx.
// SubmitTx takes the chain write lock, so it must run after ReadPending returns.
func (s *Server) submit(build func(v cc.ChainView) (*types.Tx, error)) (*types.Tx, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	var tx *types.Tx
	err := s.chain.ReadPending(func(v cc.ChainView) error {
		var err error
		tx, err = build(v)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.chain.SubmitTx(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ==============================
// Contract and Chain Handlers
// ==============================

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	code, err := cc.ParseEvalCode(mux.Vars(r)["eval"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid eval code", err.Error())
		return
	}
	tip, _, _ := s.chain.Tip()
	reg := s.chain.Registry()
	info := IdentityInfo{Code: "0x" + strconv.FormatUint(uint64(code), 16), Name: code.Name(), Active: reg.Active(code, tip+1)}
	contract, id, err := reg.Lookup(code)
	switch {
	case id == nil:
		info.Active = false
		info.Error = cc.Reason(err)
		if !cc.IsKind(err, cc.KindConfig) {
			respondError(w, http.StatusNotFound, "unknown eval code", info.Error)
			return
		}
	default:
		info.Validator = contract != nil
		info.PubKey = hex.EncodeToString(id.PubKey)
		info.PrivKey = hex.EncodeToString(id.PrivKey())
		info.Unspendable = id.Unspendable.Hex()
		info.SignerAddr = id.SignerAddr.Hex()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	height, hash, _ := s.chain.Tip()
	var balance uint64
	err := s.chain.Read(func(v cc.ChainView) error {
		var err error
		balance, err = s.wallet.Balance(v)
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, ChainStatus{
		Height:      height,
		Hash:        hash.Hex(),
		Time:        s.chain.TipTime(),
		MempoolSize: s.chain.Mempool().Len(),
		Wallet:      s.wallet.Address().Hex(),
		Balance:     wallet.FormatCoins(balance),
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, err := s.chain.Store().Block(height)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "block not found", err.Error())
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	info := BlockInfo{
		Height: b.Height(),
		Hash:   b.Hash().Hex(),
		Parent: b.Header.Parent.Hex(),
		Time:   b.Header.Time,
		Prices: b.Header.Prices,
		Txs:    make([]string, len(b.Txs)),
	}
	for i, tx := range b.Txs {
		info.Txs[i] = tx.ID().Hex()
	}
	respondJSON(w, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) fundInfo(f prices.FundInfo) FundInfo {
	return FundInfo{
		Address:  s.prices.Identity().Unspendable.Hex(),
		Total:    wallet.FormatCoins(f.Total),
		Exposure: wallet.FormatCoins(f.Exposure),
		Headroom: formatSigned(f.Headroom),
		Outputs:  f.Outputs,
		OpenBets: f.OpenBets,
	}
}

func betInfo(b *prices.BetInfo) BetInfo {
	info := BetInfo{
		ID:         b.ID.Hex(),
		Owner:      hex.EncodeToString(b.Owner),
		Synthetic:  b.Synthetic,
		Leverage:   b.Leverage,
		Amount:     wallet.FormatCoins(b.Principal),
		OpenHeight: b.OpenHeight,
		State:      b.Phase.String(),
		RefHeight:  b.RefHeight,
		Profits:    formatSigned(b.Profits),
		Equity:     formatSigned(b.Equity),
		Payout:     wallet.FormatCoins(b.Payout),
		Margin:     wallet.FormatCoins(b.Margin),
		Rekt:       b.IsRekt,
		MarkError:  b.MarkErr,
		History:    make([]TransitionInfo, len(b.History)),
	}
	if b.HasCostBasis() {
		info.CostBasis = formatPrice(b.CostBasis)
		info.CostBasisRef = b.CostBasisRef
	}
	if b.Mark > 0 {
		info.Mark = formatPrice(b.Mark)
	}
	for i, t := range b.History {
		ti := TransitionInfo{Func: t.Func.String(), TxID: t.TxID.Hex(), Height: t.Height}
		if t.Amount > 0 {
			ti.Amount = wallet.FormatCoins(t.Amount)
		}
		info.History[i] = ti
	}
	if c := b.Close; c != nil {
		info.Closed = &ClosingInfo{
			TxID:      c.TxID.Hex(),
			Height:    c.Height,
			RefHeight: c.RefHeight,
			Mark:      formatPrice(c.Mark),
			Paid:      wallet.FormatCoins(c.Paid),
		}
		if c.Rekter != (common.Address{}) {
			info.Closed.Rekter = c.Rekter.Hex()
		}
	}
	return info
}

// formatPrice renders a 1e8 fixed point price.
func formatPrice(p uint64) string { return wallet.FormatCoins(p) }

func formatSigned(units int64) string { return decimal.New(units, -8).StringFixed(8) }

func parseFilter(s string) (prices.ListFilter, bool) {
	switch s {
	case "", "all":
		return prices.ListAll, true
	case "open":
		return prices.ListOpen, true
	case "closed":
		return prices.ListClosed, true
	default:
		return 0, false
	}
}

func betID(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := mux.Vars(r)["id"]
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid bet id", raw)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// decodeAmount decodes the JSON body into req and parses the coin string at field.
func decodeAmount(w http.ResponseWriter, r *http.Request, req any, field *string) (uint64, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return 0, false
	}
	amount, err := wallet.ParseCoins(*field)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return 0, false
	}
	return amount, true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, prices.ErrUnknownBet) {
		return http.StatusNotFound
	}
	switch cc.KindOf(err) {
	case cc.KindRequest:
		return http.StatusBadRequest
	case cc.KindSolvency:
		return http.StatusConflict
	case cc.KindConsensus:
		return http.StatusUnprocessableEntity
	case cc.KindConfig:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	label := cc.KindOf(err).String()
	if status == http.StatusNotFound {
		label = "not found"
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("api_internal_error", "err", err)
	}
	respondError(w, status, label, cc.Reason(err))
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
