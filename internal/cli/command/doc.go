// Package command provides the authpersist CLI commands.
//
// Commands are built with urfave/cli/v2:
//
//   - root.go: application, global flags, configuration loading
//   - env.go: per-invocation backends and auth state
//   - user.go: user get/set/remove
//   - persistence.go: persistence show/set/save-redirect
//   - watch.go: follow the signed-in user
//   - worker.go: indexed-store worker serve/ping/notify
//   - config.go: config show/validate
//   - system.go: status and version
//
// The configuration is loaded once in the app's Before hook and shared
// through an Env stored in the app metadata; After closes it.
package command
