// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package jsapi

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/aplane-algo/apbridge/internal/util"
)

var errNegativeValue = errors.New("value cannot be negative")

// algo(1.5) -> 1500000
func makeAlgoFunc(vm *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.ToValue("algo() requires a number argument"))
		}
		units, err := util.UnitsFromDecimal(call.Arguments[0].ToFloat(), util.DefaultNativeDecimals)
		if err != nil {
			panic(vm.ToValue(fmt.Sprintf("algo(): %v", err)))
		}
		return vm.ToValue(units)
	}
}

// microalgos(1500000) -> 1500000
func makeMicroalgosFunc(vm *goja.Runtime) func(call goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 1 {
			panic(vm.ToValue("microalgos() requires a number argument"))
		}
		return vm.ToValue(toUint64(vm, call.Arguments[0]))
	}
}

func (a *API) requireArgs(call goja.FunctionCall, n int, msg string) {
	if len(call.Arguments) < n {
		panic(a.runtime.ToValue(msg))
	}
}

// toUint64 converts a script number, throwing on negatives.
func toUint64(vm *goja.Runtime, v goja.Value) uint64 {
	n, err := toUint64Interface(v.Export())
	if err == nil {
		return n
	}
	if errors.Is(err, errNegativeValue) {
		panic(vm.ToValue(err.Error()))
	}
	i := v.ToInteger()
	if i < 0 {
		panic(vm.ToValue(errNegativeValue.Error()))
	}
	return uint64(i)
}

// toUint64Interface converts an exported number. Fractions are truncated.
func toUint64Interface(v any) (uint64, error) {
	negative := false
	var n uint64
	switch val := v.(type) {
	case uint64:
		n = val
	case int64:
		negative, n = val < 0, uint64(val)
	case int:
		negative, n = val < 0, uint64(val)
	case float64:
		negative, n = val < 0, uint64(val)
	default:
		return 0, fmt.Errorf("unsupported type for uint64 conversion: %T", v)
	}
	if negative {
		return 0, errNegativeValue
	}
	return n, nil
}

// toStringArray keeps the string elements of a script array.
func toStringArray(v goja.Value) []string {
	switch arr := v.Export().(type) {
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return arr
	}
	return nil
}
