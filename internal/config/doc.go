// Package config defines the client configuration: which backends make up
// the persistence hierarchy and how each is set up, the Redis store behind
// the host backend, the worker link and logging.
//
// Values are loaded by internal/infra/confloader on top of Default.
package config
