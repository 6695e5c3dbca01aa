/*
Package security composes the admission managers into one payment pipeline.

# Pipeline

ValidatePayment runs the checks in a fixed order and stops at the first
failure:

 1. toolCalls rate window
 2. highRiskOps rate window
 3. recipient allow/block list
 4. spending ceilings
 5. perRecipient rate window

Local counter checks come first so that requests that will be rejected do as
little work as possible. ValidatePayment never mutates counters, so it doubles
as a dry run.

# Recording

There are two ways to commit a payment:

	// validate, execute, record
	if err := layer.ValidatePayment(ctx, p); err != nil {
		return err
	}
	tx, err := send(ctx, p)
	if err == nil {
		layer.RecordPayment(ctx, p)
	}

	// reserve, execute, release on failure
	res, err := layer.ReservePayment(ctx, p)
	if err != nil {
		return err
	}
	if _, err := send(ctx, p); err != nil {
		res.Release()
	}

The reserve path commits every counter before returning, so two interleaved
callers cannot both observe room that only one of them can use. Callers that
execute payments concurrently should use it.

# Reports

CheckSpendingLimits, CheckAddressAllowlist, and CheckRateLimit return a Report
instead of an error and are intended for introspection.
*/
package security
