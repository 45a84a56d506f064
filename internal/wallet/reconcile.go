package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExternalMeter is the one operation an external usage-based billing system
// (e.g. Stripe metered billing) needs to expose: report a
// positive increment against a subscription-item identifier.
type ExternalMeter interface {
	ReportUsage(ctx context.Context, subscriptionItemID string, delta int) error
}

// walletRow is the subset of tenant_wallets columns the reconciler needs.
type walletRow struct {
	TenantID          uuid.UUID
	MeteredUsed       int
	LastSynced        int
	SubscriptionItemID string
}

// ReconcileWatermarks finds wallets where metered_credits_used exceeds the
// last-synced watermark and an external-meter id is configured, reports the
// delta, and then advances the watermark in its own transaction once the
// report has succeeded, so a crash between report and commit simply retries
// the report next run.
func ReconcileWatermarks(ctx context.Context, db *sql.DB, meter ExternalMeter) (reconciled, failed int, err error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tenant_id, metered_credits_used, last_synced_metered_credits, stripe_subscription_item_id
		FROM tenant_wallets
		WHERE metered_credits_used > last_synced_metered_credits
		  AND stripe_subscription_item_id IS NOT NULL
		  AND stripe_subscription_item_id != ''`)
	if err != nil {
		return 0, 0, fmt.Errorf("wallet: query pending reconciliations: %w", err)
	}

	var pending []walletRow
	for rows.Next() {
		var w walletRow
		if err := rows.Scan(&w.TenantID, &w.MeteredUsed, &w.LastSynced, &w.SubscriptionItemID); err != nil {
			rows.Close()
			return reconciled, failed, fmt.Errorf("wallet: scan pending reconciliation: %w", err)
		}
		pending = append(pending, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return reconciled, failed, fmt.Errorf("wallet: iterate pending reconciliations: %w", err)
	}

	for _, w := range pending {
		delta := w.MeteredUsed - w.LastSynced
		if err := reconcileOne(ctx, db, meter, w, delta); err != nil {
			failed++
			continue
		}
		reconciled++
	}
	return reconciled, failed, nil
}

func reconcileOne(ctx context.Context, db *sql.DB, meter ExternalMeter, w walletRow, delta int) error {
	if err := meter.ReportUsage(ctx, w.SubscriptionItemID, delta); err != nil {
		return fmt.Errorf("wallet: report usage for tenant %s: %w", w.TenantID, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("wallet: begin reconcile tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE tenant_wallets SET last_synced_metered_credits = $1, updated_at = $2 WHERE tenant_id = $3`,
		w.MeteredUsed, time.Now(), w.TenantID)
	if err != nil {
		return fmt.Errorf("wallet: advance watermark: %w", err)
	}
	return tx.Commit()
}
