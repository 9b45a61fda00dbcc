package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uhyunpark/ccledger/params"
	"github.com/uhyunpark/ccledger/pkg/abci"
	"github.com/uhyunpark/ccledger/pkg/api"
	"github.com/uhyunpark/ccledger/pkg/cc"
	"github.com/uhyunpark/ccledger/pkg/chain"
	"github.com/uhyunpark/ccledger/pkg/pricefeed"
	"github.com/uhyunpark/ccledger/pkg/prices"
	"github.com/uhyunpark/ccledger/pkg/storage"
	"github.com/uhyunpark/ccledger/pkg/types"
	"github.com/uhyunpark/ccledger/pkg/util"
	"github.com/uhyunpark/ccledger/pkg/wallet"
)

// startTicks seeds the devnet random walk; tick * Mult is a 1e8 price.
var startTicks = map[string]uint32{
	"BTC_USD": 650000000,
	"ETH_USD": 30000000,
	"KMD_USD": 5000,
	"EUR_USD": 10800,
	"XAU_USD": 23000000,
}

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	// Setup logging (write to both console and file)
	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Node.DataDir, "node.log")
	}
	sugar, err := util.NewLogger(cfg.Node.LogLevel, logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer sugar.Sync()
	sugar.Infow("logger_initialized", "log_file", logFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	store, err := storage.OpenPebbleStore(filepath.Join(cfg.Node.DataDir, "chain"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()
	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "chain.wal"))
	if err != nil {
		sugar.Fatalw("wal_open_failed", "err", err)
	}
	defer wal.Close()

	// ---- Contracts ----
	reg := cc.NewRegistry(cfg.Contracts)
	if err := reg.Init(); err != nil {
		// refused codes stay unusable; the rest of the registry is live
		sugar.Warnw("cc_init_refused", "err", err)
	}
	for _, code := range reg.Codes() {
		if id, err := reg.Identity(code); err == nil {
			sugar.Debugw("cc_identity", "eval", code.String(), "unspendable", id.Unspendable.Hex())
		}
	}

	ch, err := chain.New(cfg, store, reg, chain.Options{Logger: sugar, WAL: wal, Classify: prices.Classify})
	if err != nil {
		sugar.Fatalw("chain_init_failed", "err", err)
	}

	feeds, err := pricefeed.NewFeedTable(cfg.Prices.Feeds)
	if err != nil {
		sugar.Fatalw("feeds_invalid", "err", err)
	}
	sampler, err := pricefeed.NewSampler(ch, feeds, cfg.Chain.DayWindow(), cfg.Chain.SmoothWidth, 0)
	if err != nil {
		sugar.Fatalw("sampler_init_failed", "err", err)
	}
	id, err := reg.Identity(cc.EvalPrices)
	if err != nil {
		sugar.Fatalw("prices_identity_failed", "err", err)
	}
	contract, err := prices.New(cfg.Prices, id, sampler, sugar.Named("prices"))
	if err != nil {
		sugar.Fatalw("prices_init_failed", "err", err)
	}
	if err := reg.Register(cc.EvalPrices, contract); err != nil {
		sugar.Fatalw("prices_register_failed", "err", err)
	}

	w, err := wallet.FromHex(cfg.Node.WalletKeyHex)
	if err != nil {
		sugar.Fatalw("wallet_load_failed", "err", err)
	}
	if cfg.Node.WalletKeyHex == "" {
		sugar.Warnw("wallet_generated", "address", w.Address().Hex(), "privkey", w.Signer().PrivateKeyHex())
	}

	// ---- Price feed ----
	start := make([]uint32, feeds.Len())
	for i, f := range cfg.Prices.Feeds {
		start[i] = startTicks[f.Name]
		if start[i] == 0 {
			start[i] = 1000000
		}
	}
	provider := pricefeed.NewRandomWalk(cfg.Node.PriceSeed, start, 20)

	if _, _, ok := ch.Tip(); !ok {
		if err := connectGenesis(cfg, ch, contract, w, provider); err != nil {
			sugar.Fatalw("genesis_failed", "err", err)
		}
	}

	// ---- API Server ----
	apiServer := api.NewServer(ch, contract, w, cfg.API.AllowedOrigins, sugar.Named("api"))

	// Hook the contract metrics and the API broadcaster to block commit
	logInterval := uint64(100)
	ch.Subscribe(func(b *types.Block) {
		contract.Observe(b)
		if err := ch.Read(contract.UpdateGauges); err != nil {
			sugar.Warnw("pool_gauges_failed", "err", err)
		}
		apiServer.OnBlock(b)
		if b.Height()%logInterval == 0 || b.Height() <= 5 {
			sugar.Infow("chain_progress", "height", b.Height(), "txs", len(b.Txs), "mempool", ch.Mempool().Len())
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()
	defer apiServer.Hub().Stop()

	tip, _, _ := ch.Tip()
	sugar.Infow("node_starting",
		"height", tip,
		"wallet", w.Address().Hex(),
		"prices_pool", id.Unspendable.Hex(),
		"day_window", cfg.Chain.DayWindow(),
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	producer := &chain.Producer{
		Chain:        ch,
		Bridge:       &abci.Bridge{App: chain.NewApp(ch, w.Address())},
		Provider:     provider,
		Clock:        util.RealClock{},
		MinBlockTime: cfg.Node.MinBlockTime,
		Logger:       sugar,
	}
	if err := producer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("producer_stopped", "err", err)
	}
	sugar.Info("node_stopped")
}

// connectGenesis commits block 0: the genesis allocation to the node wallet
// and, when configured, the initial pool refill spending it.
func connectGenesis(cfg params.Config, ch *chain.Chain, contract *prices.Contract, w *wallet.Wallet, provider pricefeed.Provider) error {
	ts := uint64(time.Now().Unix())
	coinbase := chain.Coinbase(0, cfg.Chain.GenesisAlloc, w.Address())
	var extra []*types.Tx
	if cfg.Prices.GenesisFund > 0 {
		refill, err := contract.RefillFund(ch.ScratchView(0, coinbase), w, cfg.Prices.GenesisFund)
		if err != nil {
			return err
		}
		extra = append(extra, refill)
	}
	genesis := chain.GenesisBlock(coinbase, ts, provider.Vector(0, ts), extra...)
	if err := ch.ConnectBlock(genesis); err != nil {
		return err
	}
	ch.Logger().Infow("genesis_connected", "hash", genesis.Hash().Hex(), "alloc", wallet.FormatCoins(cfg.Chain.GenesisAlloc), "fund", wallet.FormatCoins(cfg.Prices.GenesisFund))
	return nil
}
