// Package allowlist decides whether a payment recipient is permitted.
//
// The manager operates in one of two modes:
//
//   - allowlist: only listed addresses pass
//   - blocklist: listed addresses are rejected, everything else passes
//
// When the list is disabled every address passes.
//
// # Refresh Gate
//
// Every accessor goes through a refresh gate. Within the refresh interval
// the cached lookup set is used without consulting the configuration at all.
// Once the interval has elapsed the manager computes a fingerprint of the
// current configuration and rebuilds the set only if the fingerprint changed.
// The cost of re-deriving the list is therefore bounded to once per interval
// no matter how many checks callers issue. Reload forces a rebuild.
//
// # Address Normalization
//
// Addresses are compared case-insensitively. 20-byte hex addresses are
// canonicalized through go-ethereum so that "0xABC..." and "abc..." match.
package allowlist
