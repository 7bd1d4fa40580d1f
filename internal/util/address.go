// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

// FormatAddressShort abbreviates a 58-character account address to its first
// and last four characters for logs and modals. Short strings pass through.
func FormatAddressShort(addr string) string {
	const keep = 4
	if len(addr) <= 3*keep {
		return addr
	}
	return addr[:keep] + ".." + addr[len(addr)-keep:]
}
