// Package domain defines the core domain models for authpersist.
//
// Domain models are pure values without IO dependencies. This package
// contains:
//
//   - UserRecord: the persisted signed-in user and its JSON form
//   - Persistence: backend descriptor (kind plus instance identity)
//   - Key naming for the per-app storage slots
//   - Errors: coded DomainError values shared by every layer
package domain
