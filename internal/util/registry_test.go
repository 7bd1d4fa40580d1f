// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package util

import (
	"slices"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry[int]()
	if err := r.Register("signMessage", 1); err != nil {
		t.Fatal(err)
	}
	r.MustRegister("connect", 2)

	if err := r.Register("connect", 3); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := r.Register("", 4); err == nil {
		t.Error("empty name accepted")
	}
	if v, ok := r.Lookup("connect"); !ok || v != 2 {
		t.Errorf("Lookup(connect) = %d, %v", v, ok)
	}
	if r.Has("bogus") {
		t.Error("Has(bogus) = true")
	}
	if got := r.Names(); !slices.Equal(got, []string{"connect", "signMessage"}) {
		t.Errorf("Names() = %v", got)
	}
}

func TestRegistryMustRegisterPanics(t *testing.T) {
	r := NewRegistry[string]()
	r.MustRegister("a", "x")
	defer func() {
		if recover() == nil {
			t.Error("MustRegister did not panic on duplicate")
		}
	}()
	r.MustRegister("a", "y")
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry[int]()
	for _, n := range []string{"a", "b", "c"} {
		r.MustRegister(n, len(n))
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !r.Has("b") || len(r.Names()) != 3 {
					t.Error("inconsistent read")
					return
				}
			}
		}()
	}
	wg.Wait()
}
