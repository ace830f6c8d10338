// Package memory provides the volatile in-memory backend (kind NONE).
//
// Values live in a cmap.Map and disappear with the process. The backend
// is the fallback of last resort when no durable backend in a hierarchy is
// available.
package memory
