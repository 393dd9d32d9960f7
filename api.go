// FILE: api.go
// Package main – JSON control API over the session registry.
//
// Routes (all JSON; guarded by requireBearer when CONTROL_JWT_SECRET is set):
//   GET    /sessions                     – list live sessions
//   POST   /sessions                     – initialize a session for a lot
//   GET    /sessions/{id}                – summary with the last snapshot
//   DELETE /sessions/{id}                – close, optional feedback body
//   GET    /sessions/{id}/decision       – evaluate the last snapshot (no side effects)
//   POST   /sessions/{id}/check          – fetch a fresh snapshot and decide
//   POST   /sessions/{id}/bids           – recommended or explicit (optionally forced) bid
//   POST   /sessions/{id}/autopilot      – start the control loop in the background
//   POST   /sessions/{id}/autopilot/stop – cooperative stop
//   GET    /sessions/{id}/log            – tick log of the current or last run
//   GET    /tuning                       – learner statistics per profile

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type apiServer struct {
	ctx        context.Context // parent of background autopilot runs
	reg        *Registry
	open       BrokerFactory
	cfg        Config
	strategies *StrategyFile
	store      *TuningStore
	log        *slog.Logger
}

func (a *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions", a.handleList)
	mux.HandleFunc("POST /sessions", a.handleCreate)
	mux.HandleFunc("GET /sessions/{id}", a.handleGet)
	mux.HandleFunc("DELETE /sessions/{id}", a.handleClose)
	mux.HandleFunc("GET /sessions/{id}/decision", a.handleDecision)
	mux.HandleFunc("POST /sessions/{id}/check", a.handleCheck)
	mux.HandleFunc("POST /sessions/{id}/bids", a.handleBid)
	mux.HandleFunc("POST /sessions/{id}/autopilot", a.handleAutopilot)
	mux.HandleFunc("POST /sessions/{id}/autopilot/stop", a.handleStop)
	mux.HandleFunc("GET /sessions/{id}/log", a.handleLog)
	mux.HandleFunc("GET /tuning", a.handleTuning)
	return requireBearer(a.cfg.ControlJWTSecret, mux)
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	var cfgErr *ConfigError
	var colErr *CollaboratorError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionExists), errors.Is(err, ErrAutopilotRunning), errors.Is(err, ErrSessionClosed):
		return http.StatusConflict
	case errors.As(err, &colErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return &ConfigError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// ---- handlers ----

type createRequest struct {
	AuctionID      string   `json:"auction_id"`
	EstimatedValue float64  `json:"estimated_value"`
	Profile        *string  `json:"profile"`
	MaxBid         *float64 `json:"max_bid"`
	Budget         *float64 `json:"budget"` // all-in budget; max_bid is derived after fees
	TargetValue    *float64 `json:"target_value"`
	Aggressiveness *float64 `json:"aggressiveness"`
	Sniping        *bool    `json:"sniping"`
	SnipeWindowS   *float64 `json:"snipe_window_s"`
}

// strategy resolves env defaults, then the strategy file, then the request.
func (req createRequest) strategy(base StrategyConfig, fees FeeSchedule) StrategyConfig {
	out := strategyOverride{
		Profile:        req.Profile,
		MaxBid:         req.MaxBid,
		TargetValue:    req.TargetValue,
		Aggressiveness: req.Aggressiveness,
		Sniping:        req.Sniping,
		SnipeWindowSec: req.SnipeWindowS,
	}.apply(base)
	if req.Budget != nil && req.MaxBid == nil {
		out.MaxBid = fees.MaxHammer(*req.Budget)
	}
	out.AggressivenessPinned = out.AggressivenessPinned || req.Aggressiveness != nil
	return out
}

func (a *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.reg.List())
}

func (a *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if req.AuctionID == "" {
		writeError(w, http.StatusBadRequest, &ConfigError{Field: "auction_id", Reason: "is empty"})
		return
	}
	strat := req.strategy(a.strategies.For(req.AuctionID, a.cfg.DefaultStrategy()), a.cfg.Fees())
	ev := req.EstimatedValue
	if !(ev > 0) {
		ev = strat.TargetValue
	}
	if !(ev > 0) {
		writeError(w, http.StatusBadRequest, &ConfigError{Field: "estimated_value", Reason: "must be > 0"})
		return
	}
	if err := strat.Validate(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if _, err := a.reg.Get(req.AuctionID); err == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("%w: %s", ErrSessionExists, req.AuctionID))
		return
	}
	broker, err := a.open(req.AuctionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, &CollaboratorError{Op: "open", Err: err})
		return
	}
	initial, err := broker.GetSnapshot(r.Context(), req.AuctionID, ev)
	if err != nil {
		_ = broker.Close()
		writeError(w, http.StatusBadGateway, &CollaboratorError{Op: "get_snapshot", Err: err})
		return
	}
	initial.EstimatedValue = ev
	s, err := a.reg.Initialize(r.Context(), req.AuctionID, strat, broker, initial)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session":  s.Summary(),
		"decision": s.Evaluate(),
	})
}

func (a *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.Summary())
}

type feedbackRequest struct {
	Won        bool     `json:"won"`
	FinalPrice float64  `json:"final_price"`
	Efficiency *float64 `json:"efficiency"`
}

func (a *apiServer) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req *feedbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	var fb *Feedback
	if req != nil {
		f := Feedback{Won: req.Won, FinalPrice: req.FinalPrice}
		if req.Efficiency != nil {
			f.Efficiency = *req.Efficiency
		} else if s, err := a.reg.Get(id); err == nil {
			f.Efficiency = Efficiency(s.Config().MaxBid, req.FinalPrice)
		}
		fb = &f
	}
	rep, err := a.reg.Close(r.Context(), id, fb)
	if err != nil && !errors.As(err, new(*CollaboratorError)) {
		writeError(w, statusFor(err), err)
		return
	}
	if err != nil {
		a.log.Warn("broker release failed", "auction", id, "err", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

func (a *apiServer) handleDecision(w http.ResponseWriter, r *http.Request) {
	d, err := a.reg.Evaluate(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *apiServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	snap, d, err := a.reg.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "decision": d})
}

type bidRequest struct {
	Amount *float64 `json:"amount"`
	Force  bool     `json:"force"`
}

func (a *apiServer) handleBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := a.reg.SubmitBid(r.Context(), r.PathValue("id"), req.Amount, req.Force)
	writeJSON(w, http.StatusOK, out)
}

type autopilotRequest struct {
	CheckIntervalS *float64 `json:"check_interval_s"`
	DurationS      *float64 `json:"duration_s"`
}

func (a *apiServer) handleAutopilot(w http.ResponseWriter, r *http.Request) {
	var req autopilotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	interval := a.cfg.CheckInterval()
	if req.CheckIntervalS != nil {
		interval = seconds(*req.CheckIntervalS)
	}
	if interval <= 0 {
		writeError(w, http.StatusBadRequest, &ConfigError{Field: "check_interval_s", Reason: "must be > 0"})
		return
	}
	duration := a.cfg.AutopilotDuration()
	if req.DurationS != nil {
		duration = seconds(*req.DurationS)
	}
	run, err := s.beginAutopilot(interval, duration)
	if err != nil {
		writeError(w, statusFor(err), fmt.Errorf("autopilot %s: %w", s.AuctionID, err))
		return
	}
	go s.runAutopilot(a.ctx, run, interval, duration)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"auction_id":       s.AuctionID,
		"check_interval_s": interval.Seconds(),
		"duration_s":       duration.Seconds(),
	})
}

func (a *apiServer) handleStop(w http.ResponseWriter, r *http.Request) {
	running, err := a.reg.StopAutopilot(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"was_running": running})
}

func (a *apiServer) handleLog(w http.ResponseWriter, r *http.Request) {
	s, err := a.reg.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	body := map[string]any{
		"running": s.autopilot.Load(),
		"entries": s.TickLog(),
	}
	if res, ok := s.LastRun(); ok {
		body["last_run"] = map[string]any{
			"ended":     res.Ended,
			"timed_out": res.TimedOut,
			"stopped":   res.Stopped,
			"ticks":     res.Ticks,
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *apiServer) handleTuning(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeJSON(w, http.StatusOK, []ProfileStats{})
		return
	}
	writeJSON(w, http.StatusOK, a.store.Stats())
}

// newBrokerFactory picks the sidecar when configured, else a shared paper broker.
func newBrokerFactory(cfg Config) BrokerFactory {
	if cfg.BridgeURL != "" {
		return func(string) (Broker, error) {
			return NewBridgeBroker(cfg.BridgeURL, cfg.BridgeOptions()), nil
		}
	}
	paper := NewPaperBroker(PaperOptions{
		StartPrice: cfg.PaperStartPrice,
		Duration:   time.Duration(cfg.PaperDurationSec) * time.Second,
		Seed:       cfg.PaperSeed,
	})
	return func(id string) (Broker, error) { return paper.Lease(id), nil }
}
