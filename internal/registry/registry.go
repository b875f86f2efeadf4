// Package registry owns the protocol configuration, the collateral whitelist
// and the two-phase ownership transfer. Every mutation is owner-gated except
// AcceptOwnership, which only the pending candidate may call.
package registry

import (
	"CDPLedger/internal/ledger"
	fpmath "CDPLedger/internal/math"
	"CDPLedger/internal/store"
	"context"
	"errors"
	"fmt"
)

// Instantiate stores the genesis config and whitelist. It can run once.
func Instantiate(ctx context.Context, tx store.Tx, cfg ledger.Config, listings []ledger.CollateralListing) error {
	if _, err := tx.Config(ctx); err == nil {
		return ledger.ErrAlreadyInstantiated
	} else if !errors.Is(err, ledger.ErrNotInstantiated) {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := tx.PutConfig(ctx, cfg); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	for _, l := range listings {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("listing %s: %w", l.Asset, err)
		}
		if err := tx.PutListing(ctx, l); err != nil {
			return fmt.Errorf("store listing %s: %w", l.Asset, err)
		}
	}
	return nil
}

// RequireOwner loads the config and checks that caller is its owner.
func RequireOwner(ctx context.Context, r store.Reader, operation string, caller ledger.Address) (ledger.Config, error) {
	cfg, err := r.Config(ctx)
	if err != nil {
		return ledger.Config{}, err
	}
	if caller != cfg.Owner {
		return ledger.Config{}, ledger.Unauthorized(operation, caller)
	}
	return cfg, nil
}

func UpdateConfig(ctx context.Context, tx store.Tx, caller ledger.Address, update ledger.ConfigUpdate) error {
	cfg, err := RequireOwner(ctx, tx, "update_config", caller)
	if err != nil {
		return err
	}
	next, err := cfg.Apply(update)
	if err != nil {
		return err
	}
	return tx.PutConfig(ctx, next)
}

// Whitelist upserts a collateral listing. Listings are never removed.
func Whitelist(ctx context.Context, tx store.Tx, caller ledger.Address, listing ledger.CollateralListing) error {
	if _, err := RequireOwner(ctx, tx, "whitelist_collateral", caller); err != nil {
		return err
	}
	if err := listing.Validate(); err != nil {
		return err
	}
	return tx.PutListing(ctx, listing)
}

func ProposeOwner(ctx context.Context, tx store.Tx, caller, candidate ledger.Address) error {
	if _, err := RequireOwner(ctx, tx, "propose_owner", caller); err != nil {
		return err
	}
	if candidate.IsZero() {
		return fmt.Errorf("%w: candidate is required", ledger.ErrValidation)
	}
	return tx.SetPendingOwner(ctx, candidate)
}

func AcceptOwnership(ctx context.Context, tx store.Tx, caller ledger.Address) error {
	cfg, err := tx.Config(ctx)
	if err != nil {
		return err
	}
	candidate, ok, err := tx.PendingOwner(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrNoPendingOwner
	}
	if caller != candidate {
		return ledger.Unauthorized("accept_ownership", caller)
	}

	cfg.Owner = candidate
	if err := tx.PutConfig(ctx, cfg); err != nil {
		return err
	}
	return tx.ClearPendingOwner(ctx)
}

// SetCollateralSafeRate is kept so old clients get a clear answer.
func SetCollateralSafeRate(ctx context.Context, tx store.Tx, caller ledger.Address, rate fpmath.Dec) error {
	return &ledger.DeprecatedError{Operation: "set_collateral_safe_rate"}
}

// RequireListing resolves asset or fails with UnregisteredCollateralError.
func RequireListing(ctx context.Context, r store.Reader, asset ledger.AssetID) (ledger.CollateralListing, error) {
	l, ok, err := r.Listing(ctx, asset)
	if err != nil {
		return ledger.CollateralListing{}, err
	}
	if !ok {
		return ledger.CollateralListing{}, &ledger.UnregisteredCollateralError{Asset: asset}
	}
	return l, nil
}
