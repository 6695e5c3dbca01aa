// Package spending enforces per-transaction, per-token daily, and aggregate
// daily spending ceilings.
//
// Amounts are exact decimals (github.com/shopspring/decimal) parsed from
// strings. Limits are read from the configuration Source on every call, so a
// reload takes effect on the next payment.
//
// # Daily Buckets
//
// All counters belong to the current local calendar day. There is no
// background timer: every operation first compares the stored day tag with
// today's date and clears every counter when they differ.
//
// # Reservations
//
// Validate is a read-only dry run. ValidateAndReserve checks the limits
// against the totals as they would be after the charge and commits the charge
// under the same lock, so two concurrent reservations can never both pass
// when their sum exceeds a ceiling:
//
//	res, err := mgr.ValidateAndReserve("USDC", "60", nil)
//	if err != nil {
//	    return err
//	}
//	if err := transfer(); err != nil {
//	    res.Release()
//	}
//
// A reservation released after the day has rolled over has no effect.
package spending
