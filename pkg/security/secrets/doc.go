// Package secrets resolves ${secret:name} references in configuration
// values.
//
// A reference is looked up in each provider in order and the first value
// found wins. Two providers are available:
//
//   - EnvProvider reads PREFIX + NAME, where NAME is the secret name
//     upper-cased with hyphens and dots turned into underscores. With the
//     default prefix, ${secret:admin-token} reads GATEKEEPER_SECRET_ADMIN_TOKEN.
//   - FileProvider reads <dir>/<name>, the layout of Docker and Kubernetes
//     secret mounts. Files must not be readable by group or others.
//
// Only the secret-bearing configuration fields are resolved:
// server.auth_token and audit.redis.password.
//
//	resolver, err := secrets.FromConfig(cfg.Secrets)
//	if err != nil {
//		return err
//	}
//	if err := resolver.ResolveConfig(ctx, cfg); err != nil {
//		return err
//	}
package secrets
