/*
Package cli provides command-line helpers shared by the gatekeeper commands.

Exit Codes:

Commands return errors and main maps them to a process exit status with
ExitCode:

	0  success
	1  command failure
	2  payment rejected by admission control (see RejectedError)
	3  configuration error (see ConfigError)

Output Formatting:

Command results are printed as text or JSON:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, report)

Values implementing TextWriter control their own text rendering.

Progress Reporting:

Long passes over the audit log report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr, "verifying")
	progress.Start(int64(len(entries)))
	...
	progress.Finish()

Signal Handling:

NotifyContext returns a context cancelled on SIGINT or SIGTERM.
*/
package cli
