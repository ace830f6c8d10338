// Package service holds the session layer of authpersist.
//
// PersistenceManager picks one active backend from a preference-ordered
// hierarchy, moves a record found elsewhere into it and keeps a change
// listener on it. OperationQueue serializes mutations, and AuthState ties
// the two together for an application: it caches the current user and
// tells observers when the signed-in uid changes, whether the change was
// made here or by another context sharing the backend.
package service
