// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package balance derives per-asset balance changes from transactions so the
// confirmation UI can show what a signature would move.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/aplane-algo/apbridge/internal/chain"
	"github.com/aplane-algo/apbridge/internal/protocol"
	"github.com/aplane-algo/apbridge/internal/util"
)

// NativeMint is the mint id of ALGO
const NativeMint uint64 = 0

// NativeName is the display name of the native asset
const NativeName = "ALGO"

// AnalysisError describes why a payload produced no changes
type AnalysisError struct {
	Stage string // decode, resolve
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("balance analysis failed at %s: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Change is one signed amount moving in or out of an account
type Change struct {
	Mint             uint64
	Owner            string
	AmountRaw        *big.Int
	AmountNormalized *big.Rat
	Decimals         int
	Name             string
	LogoURL          string
}

// Normalized renders the normalized amount as a minimal decimal string.
func (c Change) Normalized() string {
	return formatRat(c.AmountNormalized, c.Decimals)
}

// Float returns the normalized amount as a float64.
func (c Change) Float() float64 {
	f, _ := c.AmountNormalized.Float64()
	return f
}

// AssetLookup resolves asset params
type AssetLookup interface {
	LookupAsset(ctx context.Context, id uint64) (chain.Asset, error)
}

// Config holds the analyzer's chain parameters
type Config struct {
	NativeDecimals int
	WrappedNative  []uint64
	NativeLogoURL  string
}

// Analyzer turns transactions into balance changes
type Analyzer struct {
	nativeDecimals int
	nativeFamily   map[uint64]bool
	nativeLogo     string
	assets         AssetLookup
}

// NewAnalyzer creates an analyzer. assets may be nil when only native
// transfers need to be understood; asset transfers then fail to resolve.
func NewAnalyzer(cfg Config, assets AssetLookup) *Analyzer {
	family := map[uint64]bool{NativeMint: true}
	for _, id := range cfg.WrappedNative {
		family[id] = true
	}
	decimals := cfg.NativeDecimals
	if decimals <= 0 {
		decimals = util.DefaultNativeDecimals
	}
	return &Analyzer{
		nativeDecimals: decimals,
		nativeFamily:   family,
		nativeLogo:     cfg.NativeLogoURL,
		assets:         assets,
	}
}

// AnalyzeEncoded decodes msgpack-encoded unsigned transactions and analyzes them.
func (a *Analyzer) AnalyzeEncoded(ctx context.Context, encoded [][]byte, owner string) []Change {
	txns, err := DecodeTransactions(encoded)
	if err != nil {
		logFailure(&AnalysisError{Stage: "decode", Err: err})
		return []Change{}
	}
	return a.Analyze(ctx, txns, owner)
}

// Analyze returns the changes affecting owner, in transaction order.
// Any failure yields an empty result; the cause is logged.
func (a *Analyzer) Analyze(ctx context.Context, txns []types.Transaction, owner string) []Change {
	changes, err := a.analyze(ctx, txns, owner)
	if err != nil {
		logFailure(err)
		return []Change{}
	}
	return changes
}

func (a *Analyzer) analyze(ctx context.Context, txns []types.Transaction, owner string) ([]Change, error) {
	var raw []rawChange
	for i := range txns {
		rc, err := extract(&txns[i])
		if err != nil {
			return nil, &AnalysisError{Stage: "decode", Err: fmt.Errorf("transaction %d: %w", i, err)}
		}
		raw = append(raw, rc...)
	}

	changes := make([]Change, 0, len(raw))
	for _, rc := range raw {
		if rc.owner != owner {
			continue
		}
		decimals, name, logo, err := a.describe(ctx, rc.mint)
		if err != nil {
			return nil, &AnalysisError{Stage: "resolve", Err: err}
		}
		changes = append(changes, Change{
			Mint:             rc.mint,
			Owner:            rc.owner,
			AmountRaw:        rc.amount,
			AmountNormalized: normalize(rc.amount, decimals),
			Decimals:         decimals,
			Name:             name,
			LogoURL:          logo,
		})
	}
	return changes, nil
}

func (a *Analyzer) describe(ctx context.Context, mint uint64) (int, string, string, error) {
	if a.nativeFamily[mint] {
		name := NativeName
		if mint != NativeMint {
			name = fmt.Sprintf("wrapped %s (%d)", NativeName, mint)
		}
		return a.nativeDecimals, name, a.nativeLogo, nil
	}
	if a.assets == nil {
		return 0, "", "", fmt.Errorf("no asset resolver for asset %d", mint)
	}
	asset, err := a.assets.LookupAsset(ctx, mint)
	if err != nil {
		return 0, "", "", err
	}
	if asset.Decimals > 19 {
		return 0, "", "", fmt.Errorf("asset %d has invalid decimals %d", mint, asset.Decimals)
	}
	return int(asset.Decimals), asset.DisplayName(), asset.URL, nil
}

// Views converts changes to their display form.
func Views(changes []Change) []protocol.BalanceChangeView {
	views := make([]protocol.BalanceChangeView, 0, len(changes))
	for _, c := range changes {
		views = append(views, protocol.BalanceChangeView{
			Mint:             c.Mint,
			Owner:            c.Owner,
			AmountRaw:        c.AmountRaw.String(),
			AmountNormalized: c.Normalized(),
			Name:             c.Name,
			LogoURL:          c.LogoURL,
		})
	}
	return views
}

// DecodeTransactions decodes msgpack unsigned transactions.
func DecodeTransactions(encoded [][]byte) ([]types.Transaction, error) {
	if len(encoded) == 0 {
		return nil, errors.New("no transactions")
	}
	txns := make([]types.Transaction, len(encoded))
	for i, b := range encoded {
		if len(b) == 0 {
			return nil, fmt.Errorf("transaction %d is empty", i)
		}
		if err := msgpack.Decode(b, &txns[i]); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		if txns[i].Type == "" {
			return nil, fmt.Errorf("transaction %d has no type", i)
		}
	}
	return txns, nil
}

type rawChange struct {
	mint   uint64
	owner  string
	amount *big.Int
}

// extract lists the transfers of one transaction. Fees and close-out
// remainders are not known before execution and are left out.
func extract(txn *types.Transaction) ([]rawChange, error) {
	switch txn.Type {
	case types.PaymentTx:
		amount := uint64(txn.Amount)
		if amount == 0 {
			return nil, nil
		}
		return transfer(NativeMint, txn.Sender, txn.Receiver, amount), nil

	case types.AssetTransferTx:
		if txn.AssetAmount == 0 {
			return nil, nil
		}
		source := txn.Sender
		if !txn.AssetSender.IsZero() {
			// Clawback: funds leave the revoked account, not the sender
			source = txn.AssetSender
		}
		return transfer(uint64(txn.XferAsset), source, txn.AssetReceiver, txn.AssetAmount), nil

	case "":
		return nil, errors.New("missing transaction type")

	default:
		// Other types move no balances we can show
		return nil, nil
	}
}

func transfer(mint uint64, from, to types.Address, amount uint64) []rawChange {
	amt := new(big.Int).SetUint64(amount)
	return []rawChange{
		{mint: mint, owner: from.String(), amount: new(big.Int).Neg(amt)},
		{mint: mint, owner: to.String(), amount: amt},
	}
}

func normalize(raw *big.Int, decimals int) *big.Rat {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(raw, denom)
}

// formatRat renders r with at most decimals fractional digits and no trailing zeros.
func formatRat(r *big.Rat, decimals int) string {
	if r == nil {
		return "0"
	}
	s := r.FloatString(decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		return "0"
	}
	return s
}

func logFailure(err error) {
	util.Logger.Warnw("balance analysis produced no changes", "error", err)
}
