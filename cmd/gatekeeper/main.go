// Gatekeeper is the payment admission-control service for an agent wallet.
//
// It enforces per-token spending ceilings, sliding-window rate limits, and
// recipient allow/block lists before a payment is executed, and keeps a
// hash-chained audit log of every tool call.
//
// Usage:
//
//	# Start the admin server with a configuration file
//	gatekeeper run --config /etc/gatekeeper/config.yaml
//
//	# Dry-run admission of one payment
//	gatekeeper check --token USDC --amount 25 --recipient 0xabc...
//
//	# Show the newest audit entries and verify the hash chain
//	gatekeeper audit tail -n 20
//	gatekeeper audit verify
//
//	# Validate a configuration file
//	gatekeeper validate --config config.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
