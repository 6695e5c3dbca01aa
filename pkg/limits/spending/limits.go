package spending

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/config"
)

// limits is the set of ceilings resolved for one token.
type limits struct {
	perTx      decimal.NullDecimal
	daily      decimal.NullDecimal
	total      decimal.NullDecimal
	batchSize  int
	batchTotal decimal.NullDecimal
}

// resolve reads the ceilings that apply to token from cfg.
func resolve(cfg *config.SpendingLimitsConfig, token string) (limits, error) {
	var l limits
	var err error

	if l.perTx, err = lookup(cfg.MaxSinglePayment, token); err != nil {
		return l, err
	}
	if l.daily, err = lookup(cfg.DailyLimit, token); err != nil {
		return l, err
	}
	if l.total, err = optional(cfg.DailyTotalUSD, "daily_total_usd"); err != nil {
		return l, err
	}
	if l.batchTotal, err = optional(cfg.MaxBatchTotalUSD, "max_batch_total_usd"); err != nil {
		return l, err
	}
	l.batchSize = cfg.MaxBatchSize
	return l, nil
}

// lookup finds the entry for token: exact key, then case-insensitive key,
// then the wildcard.
func lookup(m map[string]string, token string) (decimal.NullDecimal, error) {
	raw, ok := m[token]
	if !ok {
		var keys []string
		for k := range m {
			if k != config.WildcardToken && strings.EqualFold(k, token) {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			raw, ok = m[keys[0]], true
		}
	}
	if !ok {
		raw, ok = m[config.WildcardToken]
	}
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	return optional(raw, "limit for "+token)
}

func optional(raw, what string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}, admission.Internal(admission.CodeConfigUnavailable, "invalid configured "+what, err)
	}
	return decimal.NewNullDecimal(d), nil
}

// parseAmount parses s as a finite, strictly positive decimal.
func parseAmount(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ledgerKey is the canonical key a token's spending is stored under.
func ledgerKey(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
