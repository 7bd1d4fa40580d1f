// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package jsapi

import (
	"encoding/base64"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/dop251/goja"
)

// minFee is the flat fee used when a script does not set one
const minFee = 1000

// txnSpec reads transaction fields from a JS object
type txnSpec struct {
	vm     *goja.Runtime
	fields map[string]any
}

func (a *API) spec(call goja.FunctionCall, usage string) txnSpec {
	a.requireArgs(call, 1, usage)
	fields, ok := call.Arguments[0].Export().(map[string]any)
	if !ok {
		panic(a.runtime.ToValue(usage))
	}
	return txnSpec{vm: a.runtime, fields: fields}
}

func (s txnSpec) fail(format string, args ...any) {
	panic(s.vm.ToValue(fmt.Sprintf(format, args...)))
}

func (s txnSpec) address(name string, required bool) types.Address {
	v, ok := s.fields[name]
	if !ok || v == nil {
		if required {
			s.fail("%s is required", name)
		}
		return types.Address{}
	}
	str, ok := v.(string)
	if !ok {
		s.fail("%s must be an address string", name)
	}
	addr, err := types.DecodeAddress(str)
	if err != nil {
		s.fail("%s: invalid address: %v", name, err)
	}
	return addr
}

func (s txnSpec) uint(name string, required bool, fallback uint64) uint64 {
	v, ok := s.fields[name]
	if !ok || v == nil {
		if required {
			s.fail("%s is required", name)
		}
		return fallback
	}
	n, err := toUint64Interface(v)
	if err != nil {
		s.fail("%s: %v", name, err)
	}
	return n
}

func (s txnSpec) str(name string) string {
	v, ok := s.fields[name]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		s.fail("%s must be a string", name)
	}
	return str
}

// header builds the common fields: from, fee, firstValid, lastValid,
// genesisId, genesisHash (base64), note, rekeyTo.
func (s txnSpec) header() types.Header {
	h := types.Header{
		Sender:     s.address("from", true),
		Fee:        types.MicroAlgos(s.uint("fee", false, minFee)),
		FirstValid: types.Round(s.uint("firstValid", true, 0)),
		LastValid:  types.Round(s.uint("lastValid", true, 0)),
		GenesisID:  s.str("genesisId"),
		RekeyTo:    s.address("rekeyTo", false),
	}
	if h.LastValid < h.FirstValid {
		s.fail("lastValid %d is before firstValid %d", h.LastValid, h.FirstValid)
	}
	if gh := s.str("genesisHash"); gh != "" {
		b, err := base64.StdEncoding.DecodeString(gh)
		if err != nil || len(b) != len(h.GenesisHash) {
			s.fail("genesisHash must be 32 bytes of base64")
		}
		copy(h.GenesisHash[:], b)
	}
	if note := s.str("note"); note != "" {
		h.Note = []byte(note)
	}
	return h
}

func encodeTxn(txn types.Transaction) string {
	return base64.StdEncoding.EncodeToString(msgpack.Encode(txn))
}

// jsPayment builds an unsigned payment:
// payment({from, to, amount, firstValid, lastValid, fee?, genesisId?, genesisHash?, note?, closeTo?, rekeyTo?}).
// Returns the base64 msgpack transaction.
func (a *API) jsPayment(call goja.FunctionCall) goja.Value {
	s := a.spec(call, "payment({from, to, amount, firstValid, lastValid}) requires an object")
	txn := types.Transaction{
		Type:   types.PaymentTx,
		Header: s.header(),
		PaymentTxnFields: types.PaymentTxnFields{
			Receiver:         s.address("to", true),
			Amount:           types.MicroAlgos(s.uint("amount", true, 0)),
			CloseRemainderTo: s.address("closeTo", false),
		},
	}
	return a.runtime.ToValue(encodeTxn(txn))
}

// jsAssetTransfer builds an unsigned asset transfer:
// assetTransfer({from, to, asset, amount, firstValid, lastValid, revocationTarget?, closeTo?, ...}).
func (a *API) jsAssetTransfer(call goja.FunctionCall) goja.Value {
	s := a.spec(call, "assetTransfer({from, to, asset, amount, firstValid, lastValid}) requires an object")
	txn := types.Transaction{
		Type:   types.AssetTransferTx,
		Header: s.header(),
		AssetTransferTxnFields: types.AssetTransferTxnFields{
			XferAsset:     types.AssetIndex(s.uint("asset", true, 0)),
			AssetAmount:   s.uint("amount", false, 0),
			AssetReceiver: s.address("to", true),
			AssetSender:   s.address("revocationTarget", false),
			AssetCloseTo:  s.address("closeTo", false),
		},
	}
	return a.runtime.ToValue(encodeTxn(txn))
}

func (a *API) decodeTxns(encoded []string) []types.Transaction {
	txns := make([]types.Transaction, len(encoded))
	for i, e := range encoded {
		b, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			panic(a.runtime.ToValue(fmt.Sprintf("transaction %d: invalid base64", i)))
		}
		if err := msgpack.Decode(b, &txns[i]); err != nil {
			panic(a.runtime.ToValue(fmt.Sprintf("transaction %d: %v", i, err)))
		}
	}
	return txns
}

// jsGroup assigns a group id to transactions built by payment()/assetTransfer()
// and returns them re-encoded, in order.
func (a *API) jsGroup(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "group(txns) requires an array of base64 transactions")
	txns := a.decodeTxns(toStringArray(call.Arguments[0]))
	if len(txns) < 2 {
		panic(a.runtime.ToValue("group() requires at least two transactions"))
	}
	for i := range txns {
		txns[i].Group = types.Digest{}
	}
	gid, err := crypto.ComputeGroupID(txns)
	if err != nil {
		panic(a.runtime.NewGoError(err))
	}
	out := make([]string, len(txns))
	for i := range txns {
		txns[i].Group = gid
		out[i] = encodeTxn(txns[i])
	}
	return a.runtime.ToValue(out)
}

// jsDecodeSigned inspects a base64 signed transaction returned by the wallet:
// {txid, type, sender, signed}.
func (a *API) jsDecodeSigned(call goja.FunctionCall) goja.Value {
	a.requireArgs(call, 1, "decodeSigned(stxn) requires a base64 signed transaction")
	b, err := base64.StdEncoding.DecodeString(call.Arguments[0].String())
	if err != nil {
		panic(a.runtime.ToValue("decodeSigned(): invalid base64"))
	}
	var stx types.SignedTxn
	if err := msgpack.Decode(b, &stx); err != nil {
		panic(a.runtime.ToValue(fmt.Sprintf("decodeSigned(): %v", err)))
	}
	return a.runtime.ToValue(map[string]any{
		"txid":   crypto.GetTxID(stx.Txn),
		"type":   string(stx.Txn.Type),
		"sender": stx.Txn.Sender.String(),
		"signed": stx.Sig != (types.Signature{}) || len(stx.Msig.Subsigs) > 0 || len(stx.Lsig.Logic) > 0,
	})
}
