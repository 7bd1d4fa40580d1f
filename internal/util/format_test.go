// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"errors"
	"math"
	"testing"
)

func TestFormatAmountWithDecimals(t *testing.T) {
	tests := []struct {
		amount   uint64
		decimals uint64
		want     string
	}{
		{100, 0, "100"},
		{0, 0, "0"},
		{0, 6, "0.000000"},
		{1, 6, "0.000001"},
		{1_500_000, 6, "1.500000"},
		{123_456_789, 6, "123.456789"},
		{5, 2, "0.05"},
		{math.MaxUint64, 6, "18446744073709.551615"},
	}
	for _, tt := range tests {
		if got := FormatAmountWithDecimals(tt.amount, tt.decimals); got != tt.want {
			t.Errorf("FormatAmountWithDecimals(%d, %d) = %q, want %q", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestUnitsFromDecimal(t *testing.T) {
	tests := []struct {
		amount   float64
		decimals int
		want     uint64
		wantErr  bool
	}{
		{1, 6, 1_000_000, false},
		{1.5, 6, 1_500_000, false},
		{0.000001, 6, 1, false},
		{0.1 + 0.2, 6, 300_000, false},
		{42, 0, 42, false},
		{-1, 6, 0, true},
		{math.NaN(), 6, 0, true},
		{math.Inf(1), 6, 0, true},
		{1e20, 6, 0, true},
	}
	for _, tt := range tests {
		got, err := UnitsFromDecimal(tt.amount, tt.decimals)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("UnitsFromDecimal(%v) error = %v, want ErrInvalidAmount", tt.amount, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("UnitsFromDecimal(%v, %d) = %d, %v, want %d", tt.amount, tt.decimals, got, err, tt.want)
		}
	}
}
