// SPDX-FileCopyrightText: 2025 The costwise Authors
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/costwise-ai/costwise"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const priceColumns = `id, provider, model, input_per_unit::text, output_per_unit::text,
			currency, unit_size, effective_at, source, active`

// GetActivePrice retrieves the single active price entry for a provider/model pair
func (r *PriceRepository) GetActivePrice(ctx context.Context, provider, model string) (*costwise.PriceEntry, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM price_entries
		WHERE provider = $1 AND model = $2 AND active`

	row := r.options.Db.QueryRow(ctx, query, provider, model)

	entry, err := scanPriceEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, costwise.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get active price", "error", err, "provider", provider, "model", model)
		return nil, fmt.Errorf("%w: %v", costwise.ErrStoreUnavailable, err)
	}
	return entry, nil
}

// SavePrice deactivates any previous active entry for the pair and stores
// entry as the new active price. The swap is transactional so readers never
// see zero or two active rows.
func (r *PriceRepository) SavePrice(ctx context.Context, entry *costwise.PriceEntry) error {
	tx, err := r.options.Db.Begin(ctx)
	if err != nil {
		r.options.Logger.Error("Failed to begin price transaction", "error", err)
		return fmt.Errorf("%w: %v", costwise.ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	deactivate := `
		UPDATE price_entries SET active = false
		WHERE provider = $1 AND model = $2 AND active`

	if _, err := tx.Exec(ctx, deactivate, entry.Provider, entry.Model); err != nil {
		r.options.Logger.Error("Failed to deactivate previous price", "error", err)
		return err
	}

	insert := `
		INSERT INTO price_entries (
			id, provider, model, input_per_unit, output_per_unit,
			currency, unit_size, effective_at, source, active
		)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, true)`

	_, err = tx.Exec(ctx, insert,
		entry.ID,
		entry.Provider,
		entry.Model,
		entry.InputPerUnit.String(),
		entry.OutputPerUnit.String(),
		entry.Currency,
		entry.UnitSize,
		entry.EffectiveAt,
		string(entry.Source),
	)
	if err != nil {
		r.options.Logger.Error("Failed to insert price entry", "error", err)
		return err
	}

	return tx.Commit(ctx)
}

// ListPriceHistory retrieves all entries for a pair, newest first. A
// non-positive limit returns the full history.
func (r *PriceRepository) ListPriceHistory(ctx context.Context, provider, model string, limit int) ([]*costwise.PriceEntry, error) {
	query := `
		SELECT ` + priceColumns + `
		FROM price_entries
		WHERE provider = $1 AND model = $2
		ORDER BY effective_at DESC`

	args := []any{provider, model}
	if limit > 0 {
		query += `
		LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.options.Db.Query(ctx, query, args...)
	if err != nil {
		r.options.Logger.Error("Failed to list price history", "error", err, "provider", provider, "model", model)
		return nil, fmt.Errorf("%w: %v", costwise.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []*costwise.PriceEntry
	for rows.Next() {
		entry, err := scanPriceEntry(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan price entry row", "error", err)
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating price entry rows", "error", err)
		return nil, err
	}

	return entries, nil
}

func scanPriceEntry(row pgx.Row) (*costwise.PriceEntry, error) {
	var entry costwise.PriceEntry
	var inputPerUnit, outputPerUnit, source string

	err := row.Scan(
		&entry.ID,
		&entry.Provider,
		&entry.Model,
		&inputPerUnit,
		&outputPerUnit,
		&entry.Currency,
		&entry.UnitSize,
		&entry.EffectiveAt,
		&source,
		&entry.Active,
	)
	if err != nil {
		return nil, err
	}

	entry.InputPerUnit, err = decimal.NewFromString(inputPerUnit)
	if err != nil {
		return nil, fmt.Errorf("invalid input price %q: %w", inputPerUnit, err)
	}
	entry.OutputPerUnit, err = decimal.NewFromString(outputPerUnit)
	if err != nil {
		return nil, fmt.Errorf("invalid output price %q: %w", outputPerUnit, err)
	}
	entry.Source = costwise.PriceSource(source)

	return &entry, nil
}
