// FILE: state.go
// Package main – Learned tuning persisted across sessions and restarts.
//
// Each strategy profile keeps the aggressiveness produced by post-auction
// feedback plus a few learner statistics (auctions, wins, efficiency of the
// wins). The file is rewritten through a tmp file + rename so a crash never
// leaves half a document behind.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const tuningStateVersion = 1

// TuningRecord is what one profile has learned so far.
type TuningRecord struct {
	Aggressiveness float64   `json:"aggressiveness"`
	Auctions       int       `json:"auctions"`
	Wins           int       `json:"wins"`
	EfficiencySum  float64   `json:"efficiency_sum"`
	Updated        time.Time `json:"updated"`
}

func (r TuningRecord) WinRate() float64 {
	if r.Auctions == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Auctions)
}

// MeanEfficiency averages the efficiency of won auctions.
func (r TuningRecord) MeanEfficiency() float64 {
	if r.Wins == 0 {
		return 0
	}
	return r.EfficiencySum / float64(r.Wins)
}

type tuningState struct {
	Version  int                     `json:"version"`
	Profiles map[string]TuningRecord `json:"profiles"`
}

// TuningStore guards the tuning document.
type TuningStore struct {
	mu      sync.RWMutex
	path    string
	persist bool
	state   tuningState
	clock   func() time.Time
}

// OpenTuningStore loads path if it exists. With persist=false nothing is
// read from or written to disk.
func OpenTuningStore(path string, persist bool) (*TuningStore, error) {
	ts := &TuningStore{
		path:    path,
		persist: persist && path != "",
		state:   tuningState{Version: tuningStateVersion, Profiles: map[string]TuningRecord{}},
		clock:   time.Now,
	}
	if !ts.persist {
		return ts, nil
	}
	bs, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ts, nil
	}
	if err != nil {
		return nil, err
	}
	var st tuningState
	if err := json.Unmarshal(bs, &st); err != nil {
		return nil, fmt.Errorf("tuning state %s: %w", path, err)
	}
	if st.Profiles == nil {
		st.Profiles = map[string]TuningRecord{}
	}
	st.Version = tuningStateVersion
	ts.state = st
	return ts, nil
}

// Aggressiveness returns the learned value for profile, if any.
func (ts *TuningStore) Aggressiveness(profile string) (float64, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	r, ok := ts.state.Profiles[profile]
	if !ok || r.Auctions == 0 {
		return 0, false
	}
	return r.Aggressiveness, true
}

// Record folds one outcome into profile and saves the document.
func (ts *TuningStore) Record(profile string, fb Feedback, aggressiveness float64) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	r := ts.state.Profiles[profile]
	r.Aggressiveness = aggressiveness
	r.Auctions++
	if fb.Won {
		r.Wins++
		r.EfficiencySum += fb.Efficiency
	}
	r.Updated = ts.clock().UTC()
	ts.state.Profiles[profile] = r
	bs, err := json.MarshalIndent(ts.state, "", " ")
	if err != nil {
		return err
	}
	return ts.saveLocked(bs)
}

// saveLocked writes the document; the caller holds ts.mu.
func (ts *TuningStore) saveLocked(bs []byte) error {
	if !ts.persist {
		return nil
	}
	if dir := filepath.Dir(ts.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := ts.path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, ts.path)
}

// ProfileStats is a read-only view of one profile.
type ProfileStats struct {
	Profile        string    `json:"profile"`
	Aggressiveness float64   `json:"aggressiveness"`
	Auctions       int       `json:"auctions"`
	Wins           int       `json:"wins"`
	WinRate        float64   `json:"win_rate"`
	MeanEfficiency float64   `json:"mean_efficiency"`
	Updated        time.Time `json:"updated"`
}

// Stats lists every profile ordered by name.
func (ts *TuningStore) Stats() []ProfileStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]ProfileStats, 0, len(ts.state.Profiles))
	for name, r := range ts.state.Profiles {
		out = append(out, ProfileStats{
			Profile:        name,
			Aggressiveness: r.Aggressiveness,
			Auctions:       r.Auctions,
			Wins:           r.Wins,
			WinRate:        r.WinRate(),
			MeanEfficiency: r.MeanEfficiency(),
			Updated:        r.Updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Profile < out[j].Profile })
	return out
}
