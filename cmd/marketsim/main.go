// Command marketsim runs a block of exchange simulations from a config
// file. Exit codes: 0 normal termination, 1 configuration error, 2
// invariant violation.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quarzvale/marketsim/params"
	"github.com/quarzvale/marketsim/pkg/accounting"
	"github.com/quarzvale/marketsim/pkg/api"
	"github.com/quarzvale/marketsim/pkg/exchange"
	"github.com/quarzvale/marketsim/pkg/message"
	"github.com/quarzvale/marketsim/pkg/num"
	"github.com/quarzvale/marketsim/pkg/sim"
	"github.com/quarzvale/marketsim/pkg/storage"
	"github.com/quarzvale/marketsim/pkg/types"
	"github.com/quarzvale/marketsim/pkg/util"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := params.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "config: bad log level %q\n", cfg.Logging.Level)
		os.Exit(1)
	}
	var logger *zap.Logger
	if cfg.Logging.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Logging.File, level)
	} else {
		logger, err = util.NewLogger(level)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		var inv *sim.InvariantError
		if errors.As(err, &inv) {
			sugar.Errorw("halted", "err", err)
			os.Exit(2)
		}
		sugar.Errorw("failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *params.Config, sugar *zap.SugaredLogger) error {
	var store *storage.Store
	if cfg.Store.Dir != "" {
		var err error
		store, err = storage.Open(cfg.Store.Dir)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	var server *api.Server
	if cfg.API.Addr != "" {
		server = api.NewServer(sugar)
		go func() {
			if err := server.ListenAndServe(cfg.API.Addr); err != nil {
				sugar.Errorw("api_server_failed", "err", err)
			}
		}()
	}

	sims := make([]*sim.Simulation, cfg.Simulation.Instances)
	for i := range sims {
		s, err := buildSimulation(cfg, i, sugar)
		if err != nil {
			return err
		}
		sims[i] = s
	}

	manager := sim.NewSimulationManager(sims, sugar)
	manager.OnBarrier(func(done []*sim.Simulation) {
		for _, s := range done {
			if server != nil {
				publishSnapshots(server, s)
			}
			if store != nil {
				now := s.CurrentTimestamp()
				if err := store.WriteCheckpoint(s.ID, now, storage.Snapshot(s.Exchange, now)); err != nil {
					sugar.Warnw("checkpoint_failed", "simulation", s.ID, "err", err)
				}
				if err := store.FlushRecord(s.ID, s.Exchange.L3Record()); err != nil {
					sugar.Warnw("record_flush_failed", "simulation", s.ID, "err", err)
				}
			}
		}
	})
	return manager.Run()
}

func buildSimulation(cfg *params.Config, index int, sugar *zap.SugaredLogger) (*sim.Simulation, error) {
	e := cfg.Exchange
	rp := types.RoundParams{
		BaseDecimals:  e.BaseDecimals,
		QuoteDecimals: e.QuoteDecimals,
	}
	template := accounting.NewBalances(
		accounting.NewBalance(num.FromFloat(e.InitialBase, e.BaseDecimals), "BASE", e.BaseDecimals),
		accounting.NewBalance(num.FromFloat(e.InitialQuote, e.QuoteDecimals), "QUOTE", e.QuoteDecimals),
		num.FromFloat(e.MaintenanceMargin, 8), rp)

	tiers := make([]exchange.Tier, len(cfg.FeePolicy.Tiers))
	for i, t := range cfg.FeePolicy.Tiers {
		tiers[i] = exchange.Tier{
			VolumeRequired: num.FromFloat(t.VolumeRequired, e.QuoteDecimals),
			MakerFeeRate:   num.FromFloat(t.MakerFee, 8),
			TakerFeeRate:   num.FromFloat(t.TakerFee, 8),
		}
	}
	feePolicy, err := exchange.NewFeePolicy(
		cfg.FeePolicy.HistorySlots,
		types.Timestamp(cfg.FeePolicy.SlotPeriod.Nanoseconds()),
		tiers)
	if err != nil {
		return nil, err
	}

	validatorParams := exchange.ValidatorParams{
		PriceIncrementDecimals:  e.PriceDecimals,
		VolumeIncrementDecimals: e.VolumeDecimals,
		BaseIncrementDecimals:   e.BaseDecimals,
		QuoteIncrementDecimals:  e.QuoteDecimals,
		MinOrderSize:            num.FromFloat(e.MinOrderSize, e.VolumeDecimals),
		MaxOrdersPerAgent:       e.MaxOrdersPerAgent,
	}
	exchangeConfig := exchange.ExchangeConfig{
		MaintenanceMargin: num.FromFloat(e.MaintenanceMargin, 8),
		MaxLeverage:       num.FromFloat(e.MaxLeverage, e.VolumeDecimals),
		MaxLoan:           num.FromFloat(e.MaxLoan, e.QuoteDecimals),
	}

	s := sim.NewSimulation(
		types.Timestamp(cfg.Simulation.Horizon.Nanoseconds()),
		func(dispatch exchange.Dispatch, now func() types.Timestamp) *exchange.MultiBookExchangeAgent {
			return exchange.NewMultiBookExchangeAgent(
				e.Books, template, feePolicy, validatorParams, exchangeConfig,
				dispatch, now, sugar)
		},
		sugar)

	for t := 0; t < cfg.Agents.RandomTraders; t++ {
		name := fmt.Sprintf("RANDOM_TRADER_%d", t)
		agentID := s.Exchange.Accounts().RegisterLocal(name)
		trader := sim.NewRandomTrader(s, sim.RandomTraderDesc{
			ID:           agentID,
			Seed:         cfg.Simulation.Seed + int64(index*1000+t),
			BookCount:    e.Books,
			Tau:          types.Timestamp(cfg.Agents.Tau.Nanoseconds()),
			MinQuantity:  num.FromFloat(cfg.Agents.MinQuantity, e.VolumeDecimals),
			MaxQuantity:  num.FromFloat(cfg.Agents.MaxQuantity, e.VolumeDecimals),
			InitialPrice: num.FromFloat(e.InitialPrice, e.PriceDecimals),
		})
		s.AddAgent(trader)
	}
	return s, nil
}

func publishSnapshots(server *api.Server, s *sim.Simulation) {
	for _, bk := range s.Exchange.Books() {
		snap := message.L1Snapshot{
			Timestamp: s.CurrentTimestamp(),
			BestBid:   bk.BestBidOrZero(),
			BestAsk:   bk.BestAskOrZero(),
			BookID:    bk.ID(),
		}
		if bids := bk.Depth(types.Buy, 1); len(bids) > 0 {
			snap.BidVolume = bids[0].Volume
		}
		if asks := bk.Depth(types.Sell, 1); len(asks) > 0 {
			snap.AskVolume = asks[0].Volume
		}
		server.PublishL1(snap)
		server.PublishBook(message.BookSnapshot{
			Timestamp: s.CurrentTimestamp(),
			BookID:    bk.ID(),
			Bids:      bk.Depth(types.Buy, 10),
			Asks:      bk.Depth(types.Sell, 10),
		})
	}
}
