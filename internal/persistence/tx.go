package persistence

import (
	"CDPLedger/internal/ledger"
	"CDPLedger/internal/store"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// pgTx serves both read-only and read-write transactions; Postgres itself
// rejects writes on a READ ONLY transaction.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return store.ErrTxDone
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *pgTx) Config(ctx context.Context) (ledger.Config, error) {
	var body []byte
	err := t.tx.QueryRowContext(ctx, `SELECT body FROM cdp.config`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Config{}, ledger.ErrNotInstantiated
	}
	if err != nil {
		return ledger.Config{}, fmt.Errorf("load config: %w", err)
	}
	var cfg ledger.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return ledger.Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (t *pgTx) PendingOwner(ctx context.Context) (ledger.Address, bool, error) {
	var candidate ledger.Address
	err := t.tx.QueryRowContext(ctx, `SELECT candidate FROM cdp.pending_owner`).Scan(&candidate)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load pending owner: %w", err)
	}
	return candidate, true, nil
}

const listingColumns = `asset, name, symbol, max_ltv, custody, reward_book`

func scanListing(row interface{ Scan(...any) error }) (ledger.CollateralListing, error) {
	var l ledger.CollateralListing
	err := row.Scan(&l.Asset, &l.Name, &l.Symbol, &l.MaxLtv, &l.Custody, &l.RewardBook)
	return l, err
}

func (t *pgTx) Listing(ctx context.Context, asset ledger.AssetID) (ledger.CollateralListing, bool, error) {
	l, err := scanListing(t.tx.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM cdp.collateral_listings WHERE asset = $1`, asset))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.CollateralListing{}, false, nil
	}
	if err != nil {
		return ledger.CollateralListing{}, false, fmt.Errorf("load listing %s: %w", asset, err)
	}
	return l, true, nil
}

func (t *pgTx) Listings(ctx context.Context, startAfter ledger.AssetID, limit int) ([]ledger.CollateralListing, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM cdp.collateral_listings
		WHERE asset > $1
		ORDER BY asset ASC
		LIMIT $2
	`, startAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var out []ledger.CollateralListing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) MinterDebt(ctx context.Context, minter ledger.Address) (ledger.MinterDebt, error) {
	d := ledger.NewMinterDebt(minter)
	err := t.tx.QueryRowContext(ctx,
		`SELECT loans, is_redemption_provider FROM cdp.minter_debts WHERE minter = $1`, minter,
	).Scan(&d.Loans, &d.IsRedemptionProvider)
	if errors.Is(err, sql.ErrNoRows) {
		return d, nil
	}
	if err != nil {
		return ledger.MinterDebt{}, fmt.Errorf("load debt %s: %w", minter, err)
	}
	return d, nil
}

func (t *pgTx) RedemptionProviders(ctx context.Context, startAfter ledger.Address, limit int) ([]ledger.MinterDebt, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT minter, loans, is_redemption_provider
		FROM cdp.minter_debts
		WHERE is_redemption_provider AND minter > $1
		ORDER BY minter ASC
		LIMIT $2
	`, startAfter, limit)
	if err != nil {
		return nil, fmt.Errorf("list redemption providers: %w", err)
	}
	defer rows.Close()

	var out []ledger.MinterDebt
	for rows.Next() {
		var d ledger.MinterDebt
		if err := rows.Scan(&d.Minter, &d.Loans, &d.IsRedemptionProvider); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *pgTx) Basket(ctx context.Context, minter ledger.Address) (ledger.Basket, error) {
	var entries []byte
	err := t.tx.QueryRowContext(ctx, `SELECT entries FROM cdp.baskets WHERE minter = $1`, minter).Scan(&entries)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load basket %s: %w", minter, err)
	}
	var b ledger.Basket
	if err := json.Unmarshal(entries, &b); err != nil {
		return nil, fmt.Errorf("decode basket %s: %w", minter, err)
	}
	return b, nil
}

func (t *pgTx) PutConfig(ctx context.Context, cfg ledger.Config) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	// lib/pq sends []byte as bytea; JSONB parameters go over as text.
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO cdp.config (id, body, updated_at) VALUES (TRUE, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`, string(body))
	if err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	return nil
}

func (t *pgTx) SetPendingOwner(ctx context.Context, candidate ledger.Address) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cdp.pending_owner (id, candidate) VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET candidate = EXCLUDED.candidate
	`, candidate)
	if err != nil {
		return fmt.Errorf("store pending owner: %w", err)
	}
	return nil
}

func (t *pgTx) ClearPendingOwner(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM cdp.pending_owner`); err != nil {
		return fmt.Errorf("clear pending owner: %w", err)
	}
	return nil
}

func (t *pgTx) PutListing(ctx context.Context, l ledger.CollateralListing) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cdp.collateral_listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			max_ltv = EXCLUDED.max_ltv,
			custody = EXCLUDED.custody,
			reward_book = EXCLUDED.reward_book
	`, l.Asset, l.Name, l.Symbol, l.MaxLtv, l.Custody, l.RewardBook)
	if err != nil {
		return fmt.Errorf("store listing %s: %w", l.Asset, err)
	}
	return nil
}

func (t *pgTx) PutMinterDebt(ctx context.Context, d ledger.MinterDebt) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO cdp.minter_debts (minter, loans, is_redemption_provider)
		VALUES ($1, $2, $3)
		ON CONFLICT (minter) DO UPDATE SET
			loans = EXCLUDED.loans,
			is_redemption_provider = EXCLUDED.is_redemption_provider
	`, d.Minter, d.Loans, d.IsRedemptionProvider)
	if err != nil {
		return fmt.Errorf("store debt %s: %w", d.Minter, err)
	}
	return nil
}

func (t *pgTx) PutBasket(ctx context.Context, minter ledger.Address, basket ledger.Basket) error {
	if basket.IsEmpty() {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM cdp.baskets WHERE minter = $1`, minter); err != nil {
			return fmt.Errorf("delete basket %s: %w", minter, err)
		}
		return nil
	}
	entries, err := json.Marshal(basket)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO cdp.baskets (minter, entries) VALUES ($1, $2)
		ON CONFLICT (minter) DO UPDATE SET entries = EXCLUDED.entries
	`, minter, string(entries))
	if err != nil {
		return fmt.Errorf("store basket %s: %w", minter, err)
	}
	return nil
}
