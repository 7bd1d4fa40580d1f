// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

// Package chain talks to an algod node: asset lookups for the balance
// analyzer and transaction submission for sign-and-send.
package chain

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
)

// Asset is the subset of asset params the bridge displays
type Asset struct {
	ID       uint64
	Name     string
	UnitName string
	Decimals uint64
	URL      string
}

// DisplayName returns the best human label for the asset.
func (a Asset) DisplayName() string {
	switch {
	case a.Name != "":
		return a.Name
	case a.UnitName != "":
		return a.UnitName
	default:
		return fmt.Sprintf("ASA %d", a.ID)
	}
}

// SendResult describes a submitted transaction
type SendResult struct {
	TxID           string
	ConfirmedRound uint64
}

// AlgodClient wraps the SDK algod client
type AlgodClient struct {
	client *algod.Client
}

// NewAlgodClient creates a client for the given node.
func NewAlgodClient(url, token string) (*AlgodClient, error) {
	client, err := algod.MakeClient(url, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create algod client: %w", err)
	}
	return &AlgodClient{client: client}, nil
}

// LookupAsset fetches asset params by id.
func (c *AlgodClient) LookupAsset(ctx context.Context, id uint64) (Asset, error) {
	asset, err := c.client.GetAssetByID(id).Do(ctx)
	if err != nil {
		return Asset{}, fmt.Errorf("failed to get asset %d: %w", id, err)
	}
	return Asset{
		ID:       id,
		Name:     asset.Params.Name,
		UnitName: asset.Params.UnitName,
		Decimals: asset.Params.Decimals,
		URL:      asset.Params.Url,
	}, nil
}

// Broadcast submits signed transaction bytes (one transaction or a concatenated
// group). With waitRounds > 0 it waits for the first transaction to be confirmed.
func (c *AlgodClient) Broadcast(ctx context.Context, signed []byte, waitRounds uint64) (SendResult, error) {
	txid, err := c.client.SendRawTransaction(signed).Do(ctx)
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to submit transaction: %w", err)
	}

	result := SendResult{TxID: txid}
	if waitRounds == 0 {
		return result, nil
	}

	info, err := transaction.WaitForConfirmation(c.client, txid, waitRounds, ctx)
	if err != nil {
		return result, fmt.Errorf("transaction %s not confirmed: %w", txid, err)
	}
	result.ConfirmedRound = info.ConfirmedRound
	return result, nil
}
