// Package buildinfo reports the version of the running binary.
//
//	go build -ldflags "-X github.com/yndnr/authpersist/internal/infra/buildinfo.Version=v0.3.0"
package buildinfo
