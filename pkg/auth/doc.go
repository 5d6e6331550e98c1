// Package auth implements the identity store: user accounts, password
// credentials, opaque bearer sessions, and single-use login tokens for
// email verification, password reset, and magic links.
//
// Tokens are prefixed "unuxt_" and stored only as SHA-256 hashes; the raw
// token is returned exactly once at creation. Passwords are hashed with
// Argon2id in PHC format. Session lifetime slides: resolving a session that
// has not been refreshed within the configured update age extends its
// expiry by the full TTL.
package auth
