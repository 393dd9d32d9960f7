// FILE: env.go
// Package main – Environment helpers for the bidder.
//
// This file provides:
//   1) Small helpers to read environment variables with sane defaults
//      (strings, ints, floats, bools).
//   2) A safe loader (loadBotEnv) that reads the bidder's .env file and sets
//      only the keys the Go process needs, ignoring secrets meant for the
//      scraping sidecar.
//
// Notes:
//   • Variables already present in the process env always win.
//   • The sidecar keeps its own env file (browser profile, site credentials).

package main

import (
	"bufio"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const defaultEnvFile = "/opt/bidpilot/env/bot.env"

// --------- Env helpers (used across files) ---------

// envValue returns the trimmed value of key and whether it is non-empty.
func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func getEnv(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}
func getEnvFloat(key string, def float64) float64 {
	if v, ok := envValue(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
func getEnvBool(key string, def bool) bool {
	v, _ := envValue(key)
	switch strings.ToLower(v) {
	case "1", "true", "y", "yes", "on":
		return true
	case "0", "false", "n", "no", "off":
		return false
	}
	return def
}
func getEnvInt(key string, def int) int {
	if v, ok := envValue(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// --------- .env loader (bidder-only) ---------

var botEnvKeys = map[string]struct{}{
	"PORT": {}, "LOG_LEVEL": {}, "STATE_FILE": {}, "PERSIST_STATE": {},
	"BRIDGE_URL": {}, "BRIDGE_JWT_SECRET": {}, "BRIDGE_RETRIES": {}, "BRIDGE_TIMEOUT_SEC": {},
	"CONTROL_JWT_SECRET": {},
	"CHECK_INTERVAL_SEC": {}, "AUTOPILOT_DURATION_SEC": {}, "ADAPTIVE_POLLING": {},
	"STRATEGY_FILE": {}, "MAX_BID": {}, "TARGET_VALUE": {}, "AGGRESSIVENESS": {},
	"SNIPING": {}, "SNIPE_WINDOW_SEC": {},
	"FEE_RATE_PCT": {}, "FEE_FIXED": {},
	"PAPER_START_PRICE": {}, "PAPER_DURATION_SEC": {}, "PAPER_SEED": {},
}

// loadBotEnv reads path (default /opt/bidpilot/env/bot.env) and sets ONLY the
// keys the bidder needs. It returns how many keys it set.
func loadBotEnv(path string) int {
	if path == "" {
		path = defaultEnvFile
	}
	f, err := os.Open(path)
	if err != nil {
		slog.Info("env file not found, relying on process env", "path", path)
		return 0
	}
	defer f.Close()

	set := 0
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		if _, ok := botEnvKeys[key]; !ok {
			continue
		}
		val := strings.TrimSpace(line[eq+1:])
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		} else if idx := strings.Index(val, "#"); idx >= 0 {
			val = strings.TrimSpace(val[:idx])
		}
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
			set++
		}
	}
	slog.Info("env file loaded", "path", path, "keys", set)
	return set
}
