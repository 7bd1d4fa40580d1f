// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package security applies process hardening for daemons that hold key material.
package security

import (
	"fmt"
	"os"
	"syscall"
)

// Hardening reports which protections were applied
type Hardening struct {
	CoreDumpsDisabled bool
	MemoryLocked      bool
	Errors            []error
}

// Harden disables core dumps and, when lock is set, locks memory.
// Failures are collected rather than returned so the caller decides how loud to be.
func Harden(lock bool) Hardening {
	var h Hardening
	if err := DisableCoreDumps(); err != nil {
		h.Errors = append(h.Errors, err)
	} else {
		h.CoreDumpsDisabled = true
	}
	if lock {
		if err := LockMemory(); err != nil {
			h.Errors = append(h.Errors, err)
		} else {
			h.MemoryLocked = true
		}
	}
	return h
}

// LockMemory locks all memory pages so the embedded key never reaches swap.
func LockMemory() error {
	if err := syscall.Mlockall(syscall.MCL_CURRENT | syscall.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall failed: %w (grant it with: sudo setcap cap_ipc_lock+ep %s)", err, os.Args[0])
	}
	return nil
}

// DisableCoreDumps sets RLIMIT_CORE to zero.
func DisableCoreDumps() error {
	rlimit := syscall.Rlimit{Cur: 0, Max: 0}
	if err := syscall.Setrlimit(syscall.RLIMIT_CORE, &rlimit); err != nil {
		return fmt.Errorf("failed to disable core dumps: %w", err)
	}
	return nil
}
