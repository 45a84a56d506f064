// Package wallet implements the metered-billing tollbooth:
// a pure per-model cost function, an atomic base-then-overage deduction
// against a row-locked wallet, and a reconciliation job that reports overage
// deltas to an external meter.
package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/apperr"
)

// Tier cost table. Matching order is opus -> sonnet/pro -> small, so that a
// model name like "gemini-1.5-flash" matches the small tier on "flash" and
// never false-positives on "mini" matching inside "gemini".
var (
	tier3Keys = []string{"opus"}
	tier2Keys = []string{"sonnet", "pro"}
	tier1Keys = []string{"haiku", "flash", "nano", "mini", "lite"}

	tokenSplitter = regexp.MustCompile(`[-_]`)
)

// CalculateCost is a pure function of the model identifier. It first tries a
// hyphen/underscore-delimited token match, then falls back to a plain
// substring match, so "claude-3-5-sonnet-latest" and "sonnetmodel" both
// resolve sensibly. Unknown models default to tier 1 (1 credit).
func CalculateCost(model string) int {
	lower := strings.ToLower(model)
	tokens := tokenSplitter.Split(lower, -1)

	if tokenMatchesAny(tokens, tier3Keys) || substringMatchesAny(lower, tier3Keys) {
		return 3
	}
	if tokenMatchesAny(tokens, tier2Keys) || substringMatchesAny(lower, tier2Keys) {
		return 2
	}
	if tokenMatchesAny(tokens, tier1Keys) || substringMatchesAny(lower, tier1Keys) {
		return 1
	}
	return 1
}

func tokenMatchesAny(tokens, keys []string) bool {
	for _, tok := range tokens {
		for _, k := range keys {
			if tok == k {
				return true
			}
		}
	}
	return false
}

func substringMatchesAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// Deduction is the result of a successful Deduct call.
type Deduction struct {
	BaseRemaining int
	MeteredUsed   int
	Cost          int
}

// Ledger deducts credits against a tenant's wallet row, locked for the
// duration of the call so concurrent turns never race past the same base
// balance.
type Ledger struct{}

// New constructs a Ledger. It is stateless; every call takes the
// transaction and driver dialect explicitly.
func New() *Ledger { return &Ledger{} }

// Deduct subtracts cost (derived from model via CalculateCost) from the
// tenant's wallet: first from base_credits_remaining, then any remainder
// spills into metered_credits_used. If the tenant has no wallet row, no
// charge happens and Deduct returns nil, nil — this is deliberately not an error since most
// failure-path turns reach billing with no wallet configured yet.
func (l *Ledger) Deduct(ctx context.Context, tx *sql.Tx, forUpdateSuffix string, tenantID uuid.UUID, model string) (*Deduction, error) {
	cost := CalculateCost(model)

	row := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT base_credits_remaining, metered_credits_used FROM tenant_wallets WHERE tenant_id = $1%s`,
		forUpdateSuffix), tenantID)

	var base, metered int
	if err := row.Scan(&base, &metered); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("wallet: load wallet row: %w", err)
	}

	var newBase, newMetered int
	if base >= cost {
		newBase = base - cost
		newMetered = metered
	} else {
		remainder := cost - base
		newBase = 0
		newMetered = metered + remainder
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE tenant_wallets SET base_credits_remaining = $1, metered_credits_used = $2, updated_at = $3
		 WHERE tenant_id = $4`,
		newBase, newMetered, time.Now(), tenantID)
	if err != nil {
		return nil, fmt.Errorf("wallet: update wallet row: %w", err)
	}

	if newBase < 0 || newMetered < 0 {
		return nil, apperr.New(apperr.InvariantViolation, "wallet: balance went negative")
	}

	return &Deduction{BaseRemaining: newBase, MeteredUsed: newMetered, Cost: cost}, nil
}
