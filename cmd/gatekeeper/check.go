package main

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/admission"
	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/limits/spending"
	"mercator-hq/gatekeeper/pkg/security"
)

type checkOptions struct {
	token      string
	amount     string
	recipient  string
	requestID  string
	batchSize  int
	batchTotal string
	format     string
}

// checkResult is the outcome of one dry-run admission.
type checkResult struct {
	Allowed           bool                `json:"allowed"`
	Stage             string              `json:"stage,omitempty"`
	Code              string              `json:"code,omitempty"`
	Reason            string              `json:"reason,omitempty"`
	RetryAfterSeconds int64               `json:"retry_after_seconds,omitempty"`
	Allowance         *spending.Allowance `json:"allowance,omitempty"`
}

// WriteText renders the result for terminals.
func (r checkResult) WriteText(w io.Writer) error {
	if r.Allowed {
		fmt.Fprintln(w, "✓ Payment allowed")
	} else {
		fmt.Fprintf(w, "✗ Payment rejected at %s\n", r.Stage)
		fmt.Fprintf(w, "  Code:   %s\n", r.Code)
		fmt.Fprintf(w, "  Reason: %s\n", r.Reason)
		if r.RetryAfterSeconds > 0 {
			fmt.Fprintf(w, "  Retry after: %ds\n", r.RetryAfterSeconds)
		}
	}
	if a := r.Allowance; a != nil {
		fmt.Fprintf(w, "\nAllowance for %s on %s:\n", a.Token, a.Day)
		fmt.Fprintf(w, "  Per transaction: %s\n", nullString(a.PerTransaction, "denied"))
		fmt.Fprintf(w, "  Daily remaining: %s of %s\n", nullString(a.DailyRemaining, "unlimited"), nullString(a.DailyLimit, "unlimited"))
		fmt.Fprintf(w, "  Total remaining: %s of %s\n", nullString(a.TotalRemaining, "unlimited"), nullString(a.TotalLimit, "unlimited"))
	}
	return nil
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Dry-run admission of a payment",
		Long: `Run a payment through every admission rule without recording it.

Spending is evaluated against the persisted ledger when limits_storage is
sqlite. Rate windows start empty because they are not persisted.

The exit status is 0 when the payment would be allowed and 2 when it would
be rejected.

Examples:
  gatekeeper check --token USDC --amount 25 --recipient 0xabc...

  # One item of a 5-recipient batch worth 100 in total
  gatekeeper check --token USDC --amount 20 --recipient 0xabc... \
      --batch-size 5 --batch-total 100 --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "asset symbol (required)")
	cmd.Flags().StringVar(&opts.amount, "amount", "", "payment amount as a decimal string (required)")
	cmd.Flags().StringVar(&opts.recipient, "recipient", "", "recipient address (required)")
	cmd.Flags().StringVar(&opts.requestID, "request-id", "", "request ID for correlation")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "number of recipients when the payment is part of a batch")
	cmd.Flags().StringVar(&opts.batchTotal, "batch-total", "", "aggregate value of the batch")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text, json")
	cmd.MarkFlagRequired("token")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("recipient")
	return cmd
}

func runCheck(cmd *cobra.Command, root *rootOptions, opts *checkOptions) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(opts.format))
	if err != nil {
		return err
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, modeOneShot)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	defer a.close(ctx)

	params := security.PaymentParams{
		RequestID: opts.requestID,
		Token:     opts.token,
		Amount:    opts.amount,
		Recipient: opts.recipient,
	}
	if opts.batchSize > 0 || opts.batchTotal != "" {
		params.Batch = &spending.Batch{RecipientCount: opts.batchSize, Total: opts.batchTotal}
	}

	checkErr := a.layer.ValidatePayment(ctx, params)
	if errors.Is(checkErr, admission.ErrInternal) {
		return cli.NewCommandError("check", checkErr)
	}

	result := newCheckResult(checkErr)
	if allowance, err := a.layer.GetRemainingAllowance(opts.token); err == nil {
		result.Allowance = &allowance
	}
	if err := formatter.FormatTo(cmd.OutOrStdout(), result); err != nil {
		return err
	}

	if checkErr != nil {
		return &cli.RejectedError{Stage: result.Stage, Err: checkErr}
	}
	return nil
}

func newCheckResult(err error) checkResult {
	if err == nil {
		return checkResult{Allowed: true}
	}
	r := checkResult{
		Stage:  security.RejectedStage(err),
		Code:   admission.CodeOf(err),
		Reason: err.Error(),
	}
	var ae *admission.Error
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		r.RetryAfterSeconds = int64(math.Ceil(ae.RetryAfter.Seconds()))
	}
	return r
}

func nullString(d decimal.NullDecimal, ifNull string) string {
	if !d.Valid {
		return ifNull
	}
	return d.Decimal.String()
}
