// Package util provides the logging and error-taxonomy primitives shared
// by every resource manager.
package util

import "errors"

// Sentinel errors for the reconciliation engine (§7). Each manager's
// concrete error type wraps one of these via Unwrap, so callers can test
// failure classes with errors.Is without caring which manager raised it.
var (
	// ErrCommandFailed is the root for a non-zero exit from an external
	// command (ip/bridge/ovs-vsctl/vtysh). Aborts the current iteration.
	ErrCommandFailed = errors.New("external command failed")
	// ErrOutputMalformed is the root for a snapshot command whose stdout
	// did not parse as the expected JSON shape. Fatal to the iteration.
	ErrOutputMalformed = errors.New("command output malformed")
	// ErrKindMismatch is the root for a link manager collision: a
	// pre-existing link under the desired name has the wrong kind.
	// Logged, not auto-corrected.
	ErrKindMismatch = errors.New("link kind mismatch")
	// ErrInvalidSentinelRoute is the root for a malformed BGP-listener
	// nexthop (ge > le, or destination prefix longer than ge). That one
	// route is skipped; the loop proceeds.
	ErrInvalidSentinelRoute = errors.New("invalid sentinel route")
	// ErrInventoryUnavailable is the root for inventory query failures.
	// Bubbles up and aborts the iteration.
	ErrInventoryUnavailable = errors.New("inventory unavailable")
)
