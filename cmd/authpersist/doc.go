// Package main provides the entry point for authpersist.
//
// authpersist reads and writes the signed-in user of an application
// through the configured storage hierarchy:
//
//   - user get | set | remove
//   - persistence show | set | save-redirect
//   - watch (follow sign-in changes made by other processes)
//   - worker serve | ping | notify (indexed-store worker)
//   - status, config show | validate, version
//
// Usage:
//
//	authpersist -c authpersist.yaml user set --uid u1 --email ada@example.com
//	authpersist --hierarchy local --hierarchy memory -o json user get
//	authpersist worker serve --listen 127.0.0.1:5390
package main
