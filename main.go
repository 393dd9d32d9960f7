// FILE: main.go
// Package main – Program entrypoint, control API and metrics server.
//
// Boot sequence:
//   1) loadBotEnv()                – read .env (no shell exports required)
//   2) cfg := loadConfigFromEnv()  – build runtime Config
//   3) strategy file, tuning store, broker factory, registry
//   4) start HTTP server on cfg.Port (/healthz, /metrics, control API with -serve)
//   5) run one lot, a replay, or just serve
//
// Flags:
//   -lot <id>            Bid on one lot until it ends (autopilot), then debrief
//   -value <eur>         Estimated value of the lot
//   -max <eur>           Hard max bid (or -budget for an all-in budget)
//   -aggr, -snipe, -snipe-window, -interval, -duration  strategy/loop overrides
//   -replay <csv>        Replay a recorded auction (time_remaining_s,price,bidder)
//   -serve               Keep running and expose the control API
//
// Example:
//   go run . -lot 88123456 -value 1200 -max 1000 -snipe -snipe-window 15

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// ---- Flags ----
	var (
		envFile     string
		lot         string
		replay      string
		serve       bool
		value       float64
		maxBid      float64
		budget      float64
		aggr        float64
		snipe       bool
		snipeWindow float64
		intervalSec float64
		durationSec float64
	)
	flag.StringVar(&envFile, "env", getEnv("BIDPILOT_ENV_FILE", defaultEnvFile), "Path to the .env file")
	flag.StringVar(&lot, "lot", "", "Lot ID to bid on")
	flag.StringVar(&replay, "replay", "", "Path to a recorded auction CSV")
	flag.BoolVar(&serve, "serve", false, "Expose the control API and keep running")
	flag.Float64Var(&value, "value", 0, "Estimated value of the lot")
	flag.Float64Var(&maxBid, "max", 0, "Hard max bid")
	flag.Float64Var(&budget, "budget", 0, "All-in budget (max bid derived after fees)")
	flag.Float64Var(&aggr, "aggr", -1, "Aggressiveness in [0,1]")
	flag.BoolVar(&snipe, "snipe", false, "Enable sniping")
	flag.Float64Var(&snipeWindow, "snipe-window", -1, "Snipe window in seconds")
	flag.Float64Var(&intervalSec, "interval", 0, "Autopilot check interval in seconds")
	flag.Float64Var(&durationSec, "duration", -1, "Autopilot duration budget in seconds (0 = until the end)")
	flag.Parse()

	// ---- Environment & Config ----
	loadBotEnv(envFile)
	cfg := loadConfigFromEnv()
	logger := newLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	strategies, err := loadStrategyFile(cfg.StrategyFile)
	if err != nil {
		logger.Error("strategy file", "err", err)
		os.Exit(1)
	}
	store, err := OpenTuningStore(cfg.StateFile, cfg.PersistState)
	if err != nil {
		logger.Error("tuning state", "err", err)
		os.Exit(1)
	}
	for _, st := range store.Stats() {
		SetAggressivenessMetric(st.Profile, st.Aggressiveness)
	}
	reg := NewRegistry(RegistryOptions{
		Store:           store,
		Fees:            cfg.Fees(),
		Logger:          logger,
		AdaptivePolling: cfg.AdaptivePolling,
	})
	open := newBrokerFactory(cfg)

	// ---- Flag overrides ----
	strategyFor := func(id string) StrategyConfig {
		st := strategies.For(id, cfg.DefaultStrategy())
		switch {
		case maxBid > 0:
			st.MaxBid = maxBid
		case budget > 0:
			st.MaxBid = cfg.Fees().MaxHammer(budget)
		}
		if aggr >= 0 {
			st.Aggressiveness = aggr
			st.AggressivenessPinned = true
		}
		if snipe {
			st.Sniping = true
		}
		if snipeWindow >= 0 {
			st.SnipeWindow = seconds(snipeWindow)
		}
		if value > 0 && st.TargetValue <= 0 {
			st.TargetValue = value
		}
		return st
	}
	interval := cfg.CheckInterval()
	if intervalSec > 0 {
		interval = seconds(intervalSec)
	}
	duration := cfg.AutopilotDuration()
	if durationSec >= 0 {
		duration = seconds(durationSec)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- HTTP metrics/health (+ control API) ----
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if serve {
		api := &apiServer{ctx: ctx, reg: reg, open: open, cfg: cfg, strategies: strategies, store: store, log: logger}
		mux.Handle("/", api.routes())
	}

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving", "port", cfg.Port, "api", serve)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", "err", err)
			cancel()
		}
	}()

	// ---- Run selected mode ----
	exit := 0
	switch {
	case replay != "":
		if _, err := runReplay(ctx, replay, strategyFor("replay"), value, reg, os.Stdout); err != nil {
			logger.Error("replay", "err", err)
			exit = 1
		}
	case lot != "":
		if err := runLot(ctx, reg, open, lot, strategyFor(lot), value, interval, duration); err != nil {
			logger.Error("lot run", "lot", lot, "err", err)
			exit = 1
		}
	case !serve:
		flag.Usage()
		exit = 2
	}
	if serve {
		<-ctx.Done()
	}

	// ---- Graceful shutdown ----
	reg.CloseAll(context.Background())
	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
	if exit != 0 {
		os.Exit(exit)
	}
}

// runLot bids on one lot until it ends, then closes the session with the debrief.
func runLot(ctx context.Context, reg *Registry, open BrokerFactory, lot string, strat StrategyConfig, value float64, interval, duration time.Duration) error {
	if !(value > 0) {
		value = strat.TargetValue
	}
	broker, err := open(lot)
	if err != nil {
		return err
	}
	initial, err := broker.GetSnapshot(ctx, lot, value)
	if err != nil {
		_ = broker.Close()
		return &CollaboratorError{Op: "get_snapshot", Err: err}
	}
	initial.EstimatedValue = value
	s, err := reg.Initialize(ctx, lot, strat, broker, initial)
	if err != nil {
		return err
	}
	sum := s.Summary()
	slog.Info("lot armed", "lot", lot, "max_bid", sum.MaxBid, "cost_at_max", sum.CostAtMaxBid,
		"aggressiveness", sum.Aggressiveness, "sniping", sum.Sniping)

	res, err := s.RunAutopilot(ctx, interval, duration)
	if err != nil {
		_, _ = reg.Close(context.Background(), lot, nil)
		return err
	}
	for _, e := range res.TickLog {
		fmt.Println(e)
	}

	var fb *Feedback
	if res.Ended {
		d := debrief(res.LastSnapshot, strat.MaxBid)
		fb = &d
	}
	rep, err := reg.Close(context.Background(), lot, fb)
	slog.Info("lot closed", "lot", lot, "ended", res.Ended, "timed_out", res.TimedOut, "stopped", res.Stopped,
		"won", res.LastSnapshot.Leading(), "price", res.LastSnapshot.CurrentPrice,
		"aggressiveness_after", rep.AggressivenessAfter)
	return err
}
