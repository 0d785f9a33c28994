// Package auth provides identity registration, credential verification and
// dual-token issuance for Keystone.
//
// It implements:
//   - Argon2id password hashing on a bounded worker pool, with verification
//     of bcrypt hashes imported from the previous platform; those are
//     re-hashed with Argon2id on the first successful login
//   - Stateless access (HS256) and refresh (HS512) JWTs signed with separate
//     secrets and checked for their token class
//   - A UserStore contract with SQLite and PostgreSQL implementations that
//     enforce email uniqueness with a unique index
//   - Service, which orchestrates register, login and refresh
//
// Tokens are never recorded server-side. A refresh issues an additional pair
// and the presented refresh token remains valid until it expires; a leaked
// token cannot be revoked early.
//
// Emails are trimmed and lower-cased before storage and lookup.
package auth
