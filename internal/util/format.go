// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// FormatAmountWithDecimals renders base units with exactly decimals fractional
// digits: 1500000 at 6 decimals is "1.500000". Integer math keeps large
// amounts exact.
func FormatAmountWithDecimals(amountUnits uint64, decimals uint64) string {
	s := strconv.FormatUint(amountUnits, 10)
	if decimals == 0 {
		return s
	}
	d := int(decimals)
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	return s[:len(s)-d] + "." + s[len(s)-d:]
}

// ErrInvalidAmount is returned for negative, non-finite or overflowing amounts
var ErrInvalidAmount = errors.New("invalid amount")

// UnitsFromDecimal converts a whole-unit amount (1.5 ALGO) to base units,
// rounding to the nearest base unit.
func UnitsFromDecimal(amount float64, decimals int) (uint64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, ErrInvalidAmount
	}
	scaled := math.Round(amount * math.Pow10(decimals))
	if scaled >= math.MaxUint64 {
		return 0, ErrInvalidAmount
	}
	return uint64(scaled), nil
}
