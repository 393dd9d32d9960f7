// FILE: errors.go
// Package main – Error kinds shared by the registry, the loop and the API.
//
//   • ConfigError       – invalid input; fatal to the operation that got it
//   • CollaboratorError – broker failure; the loop logs it and retries next tick
//   • sentinels         – session lifecycle conflicts, matched with errors.Is;
//                         an unknown key is a ConfigError wrapping ErrSessionNotFound

package main

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExists    = errors.New("session already exists")
	ErrSessionClosed    = errors.New("session closed")
	ErrAutopilotRunning = errors.New("autopilot already running")
)

// ConfigError reports an unusable configuration or argument. Err, when set,
// is the sentinel callers match on.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// unknownSession is the error for a key with no live session.
func unknownSession(auctionID string) error {
	return &ConfigError{Field: "auction_id", Reason: fmt.Sprintf("%q", auctionID), Err: ErrSessionNotFound}
}

// CollaboratorError wraps a failed broker call.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
