package main

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", raw, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount %q must be positive", raw)
	}
	return amount, nil
}
