package repository

import (
	"context"
	"fmt"

	"idx-signals/models"
	"idx-signals/observability"
)

// CreateSignals persists a batch of emitted signals in one transaction.
// Signals are derived data, so a write failure is logged and reported
// but never fails the pipeline that produced them.
func (r *Repository) CreateSignals(ctx context.Context, signals []models.Signal) error {
	if r == nil || len(signals) == 0 {
		return nil
	}

	tx, txRepo, err := r.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range signals {
		if err := txRepo.createSignal(ctx, &signals[i]); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) createSignal(ctx context.Context, sig *models.Signal) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	var topBuyer *string
	if sig.TopBuyer.Valid {
		topBuyer = &sig.TopBuyer.String
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO signals (symbol, signal_date, action, price_at_signal, probability_up, accumulation_pct, distribution_pct, top_buyer, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sig.Symbol, sig.Date.Time, sig.Action, sig.PriceAtSignal, sig.ProbUp,
		sig.AccumulationPct, sig.DistributionPct, topBuyer, sig.Reason)

	timer.ObserveDB("insert", "signals")
	if err != nil {
		metrics.RecordDBError("insert", "signals")
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// GetSignals returns recent persisted signals, optionally for one symbol.
func (r *Repository) GetSignals(ctx context.Context, symbol string, limit int) ([]models.Signal, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	query := `
		SELECT symbol, signal_date, action, price_at_signal, probability_up, accumulation_pct, distribution_pct, top_buyer, reason
		FROM signals
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY signal_date DESC, probability_up DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, symbol, limit)
	timer.ObserveDB("select", "signals")
	if err != nil {
		metrics.RecordDBError("select", "signals")
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var topBuyer *string
		err := rows.Scan(&sig.Symbol, &sig.Date.Time, &sig.Action, &sig.PriceAtSignal,
			&sig.ProbUp, &sig.AccumulationPct, &sig.DistributionPct, &topBuyer, &sig.Reason)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if topBuyer != nil {
			sig.TopBuyer = models.Str(*topBuyer)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
