package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotACommand      = errors.New("input is not a command")
	ErrInvalidCommand   = errors.New("command syntax is invalid")
	ErrOfferNotFound    = errors.New("extension offer not found")
	ErrAlreadyInstalled = errors.New("extension is already installed")
	ErrNotInstalled     = errors.New("extension is not installed")
	ErrNoKnownPeers     = errors.New("extension has no known peers")
	ErrNodeNotRunning   = errors.New("extension node is not running")
	ErrRequestMismatch  = errors.New("response correlation id mismatch")
	ErrUnexpectedKind   = errors.New("unexpected message kind")
)

// PeerFailure records why one peer attempt failed during command execution.
type PeerFailure struct {
	PeerID string
	Err    error
}

// AllPeersFailedError aggregates every attempted peer's failure reason so the
// caller can see why each candidate was rejected, not just the last one.
type AllPeersFailedError struct {
	ExtensionID string
	Command     string
	Failures    []PeerFailure
}

func (e *AllPeersFailedError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		reasons = append(reasons, fmt.Sprintf("%s: %v", failure.PeerID, failure.Err))
	}
	return fmt.Sprintf("command %s-%s failed on all %d peers: %s",
		e.ExtensionID, e.Command, len(e.Failures), strings.Join(reasons, "; "))
}
