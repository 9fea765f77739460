// Package asset validates owner and asset identifiers before they reach the
// ledger. Validation failures are rejected up front so no partial mutation
// ever happens on a malformed request.
package asset

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidSymbol = errors.New("asset: invalid symbol")
	ErrInvalidOwner  = errors.New("asset: invalid owner id")
)

// symbolRegex matches exchange-style symbols: BTC, AAPL, ETH-USD, BRK.B.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{1,12}([.-][A-Z0-9]{1,12})?$`)

// ownerRegex matches opaque owner identifiers (account IDs, UUIDs).
var ownerRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSymbol checks that symbol is a well-formed asset identifier.
func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q (expected e.g. BTC, AAPL, ETH-USD)", ErrInvalidSymbol, symbol)
	}
	return nil
}

// ValidateOwner checks that owner is a well-formed owner identifier.
func ValidateOwner(owner string) error {
	if !ownerRegex.MatchString(owner) {
		return fmt.Errorf("%w: %q", ErrInvalidOwner, owner)
	}
	return nil
}
