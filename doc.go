// Package identity provides a self-hosted identity broker: pluggable
// authentication strategies, session and token lifecycle, and an OAuth-style
// client registry.
//
// Credential lifecycle:
//   - UserLoginData records carry a State field persisted via Bun. States
//     cover waiting-for-register, valid, and blocked so strategies share the
//     same invariants. TransitionCredential centralizes the transition graph.
//   - A credential created by a strategy match starts WAITING_FOR_REGISTER
//     and expires unless registration or linking completes in time.
//
// Sessions:
//   - ActiveLogin is the authenticated session. Its expiration slides forward
//     on use but never past a hard ceiling from creation time. Expired and
//     invalidated logins stay in storage; readers check validity lazily.
//   - ActiveLoginAccess is one relying party's grant. Refresh tokens rotate
//     through a per-grant counter; presenting a superseded counter
//     permanently invalidates the grant.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the session
//     manager and the strategy pipeline to describe login, refresh-reuse,
//     and registration events. Sinks run best-effort (errors are logged) so
//     you can forward to a database or queue without blocking authentication.
package identity
