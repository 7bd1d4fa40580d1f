// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package balance

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/aplane-algo/apbridge/internal/util"
)

// describer renders one transaction type for the confirmation modal
type describer func(a *Analyzer, txn types.Transaction) string

var describers = map[types.TxType]describer{
	types.PaymentTx:         describePayment,
	types.AssetTransferTx:   describeAssetTransfer,
	types.AssetConfigTx:     describeAssetConfig,
	types.AssetFreezeTx:     describeAssetFreeze,
	types.ApplicationCallTx: describeAppCall,
	types.KeyRegistrationTx: describeKeyReg,
}

// Describe returns a human-readable summary of txns derived only from their bytes.
// Warnings are raised for rekeys, close-outs and clawbacks, which balance deltas cannot show.
func (a *Analyzer) Describe(txns []types.Transaction) string {
	var b strings.Builder
	for i, txn := range txns {
		if len(txns) > 1 {
			fmt.Fprintf(&b, "[%d/%d] ", i+1, len(txns))
		}
		fn, ok := describers[txn.Type]
		if !ok {
			fn = describeUnknown
		}
		b.WriteString(fn(a, txn))
		a.appendCommon(&b, txn)
		if i < len(txns)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (a *Analyzer) native(amount uint64) string {
	return util.FormatAmountWithDecimals(amount, uint64(a.nativeDecimals)) + " " + NativeName
}

func describePayment(a *Analyzer, txn types.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payment: %s", a.native(uint64(txn.Amount)))
	fmt.Fprintf(&b, "\n  From: %s", util.FormatAddressShort(txn.Sender.String()))
	fmt.Fprintf(&b, "\n  To:   %s", util.FormatAddressShort(txn.Receiver.String()))
	if !txn.CloseRemainderTo.IsZero() {
		fmt.Fprintf(&b, "\n  WARNING: closes account, remainder to %s", util.FormatAddressShort(txn.CloseRemainderTo.String()))
	}
	return b.String()
}

func describeAssetTransfer(_ *Analyzer, txn types.Transaction) string {
	var b strings.Builder
	if txn.AssetAmount == 0 && txn.Sender == txn.AssetReceiver {
		fmt.Fprintf(&b, "Asset OptIn: asset #%d", txn.XferAsset)
	} else {
		fmt.Fprintf(&b, "Asset Transfer: %d units of asset #%d", txn.AssetAmount, txn.XferAsset)
	}
	fmt.Fprintf(&b, "\n  From: %s", util.FormatAddressShort(txn.Sender.String()))
	fmt.Fprintf(&b, "\n  To:   %s", util.FormatAddressShort(txn.AssetReceiver.String()))
	if !txn.AssetSender.IsZero() && txn.AssetSender != txn.Sender {
		fmt.Fprintf(&b, "\n  WARNING: clawback from %s", util.FormatAddressShort(txn.AssetSender.String()))
	}
	if !txn.AssetCloseTo.IsZero() {
		fmt.Fprintf(&b, "\n  WARNING: closes holding, remainder to %s", util.FormatAddressShort(txn.AssetCloseTo.String()))
	}
	return b.String()
}

func describeAssetConfig(_ *Analyzer, txn types.Transaction) string {
	var b strings.Builder
	switch {
	case txn.ConfigAsset == 0:
		b.WriteString("Asset Creation")
		if txn.AssetParams.AssetName != "" {
			fmt.Fprintf(&b, "\n  Name: %s", txn.AssetParams.AssetName)
		}
		if txn.AssetParams.UnitName != "" {
			fmt.Fprintf(&b, "\n  Unit: %s", txn.AssetParams.UnitName)
		}
		fmt.Fprintf(&b, "\n  Total: %d", txn.AssetParams.Total)
		fmt.Fprintf(&b, "\n  Decimals: %d", txn.AssetParams.Decimals)
	case txn.AssetParams == (types.AssetParams{}):
		fmt.Fprintf(&b, "Asset Destroy: asset #%d", txn.ConfigAsset)
	default:
		fmt.Fprintf(&b, "Asset Reconfiguration: asset #%d", txn.ConfigAsset)
	}
	return b.String()
}

func describeAssetFreeze(_ *Analyzer, txn types.Transaction) string {
	action := "UNFREEZE"
	if txn.AssetFrozen {
		action = "FREEZE"
	}
	return fmt.Sprintf("Asset %s: asset #%d\n  Account: %s",
		action, txn.FreezeAsset, util.FormatAddressShort(txn.FreezeAccount.String()))
}

var onCompletionNames = map[types.OnCompletion]string{
	types.NoOpOC:              "NoOp",
	types.OptInOC:             "OptIn",
	types.CloseOutOC:          "CloseOut",
	types.ClearStateOC:        "ClearState",
	types.UpdateApplicationOC: "Update",
	types.DeleteApplicationOC: "Delete",
}

func describeAppCall(_ *Analyzer, txn types.Transaction) string {
	var b strings.Builder
	name, ok := onCompletionNames[txn.OnCompletion]
	if !ok {
		name = "Call"
	}
	if txn.ApplicationID == 0 {
		b.WriteString("App Create")
	} else {
		fmt.Fprintf(&b, "App %s: #%d", name, txn.ApplicationID)
	}

	for i, arg := range txn.ApplicationArgs {
		if i >= 3 {
			fmt.Fprintf(&b, "\n    ... (%d more args)", len(txn.ApplicationArgs)-3)
			break
		}
		fmt.Fprintf(&b, "\n    arg[%d]: %s", i, printable(arg))
	}
	if len(txn.Accounts) > 0 {
		fmt.Fprintf(&b, "\n  Accounts: %d", len(txn.Accounts))
	}
	if len(txn.ForeignApps) > 0 {
		fmt.Fprintf(&b, "\n  Foreign Apps: %v", txn.ForeignApps)
	}
	if len(txn.ForeignAssets) > 0 {
		fmt.Fprintf(&b, "\n  Foreign Assets: %v", txn.ForeignAssets)
	}
	return b.String()
}

func describeKeyReg(_ *Analyzer, txn types.Transaction) string {
	if txn.VotePK == (types.VotePK{}) && txn.SelectionPK == (types.VRFPK{}) {
		return "Key Registration: go OFFLINE"
	}
	return fmt.Sprintf("Key Registration: go ONLINE\n  Rounds: %d-%d", txn.VoteFirst, txn.VoteLast)
}

func describeUnknown(_ *Analyzer, txn types.Transaction) string {
	return fmt.Sprintf("Transaction type %q\n  From: %s", txn.Type, util.FormatAddressShort(txn.Sender.String()))
}

func (a *Analyzer) appendCommon(b *strings.Builder, txn types.Transaction) {
	fmt.Fprintf(b, "\n  Fee: %s", a.native(uint64(txn.Fee)))
	if txn.GenesisID != "" {
		fmt.Fprintf(b, "\n  Network: %s", txn.GenesisID)
	}
	if len(txn.Note) > 0 {
		fmt.Fprintf(b, "\n  Note: %s", printable(txn.Note))
	}
	if !txn.RekeyTo.IsZero() {
		fmt.Fprintf(b, "\n  WARNING: rekeys account to %s", util.FormatAddressShort(txn.RekeyTo.String()))
	}
	if txn.Group != (types.Digest{}) {
		fmt.Fprintf(b, "\n  Group: %s...", hex.EncodeToString(txn.Group[:])[:16])
	}
}

// printable renders data as text when it is plain ASCII and as 0x-hex otherwise.
func printable(data []byte) string {
	for _, c := range data {
		if c < 32 || c > 126 {
			return "0x" + hex.EncodeToString(data)
		}
	}
	return string(data)
}
