// Package watch holds the change-notification machinery shared by the
// observable storage backends.
//
// A backend owns one Notifier. Listeners are indexed per key in
// registration order; the Shadow remembers the last value seen for each
// key so that a process does not get notified of its own writes; the
// Dispatcher delivers callbacks on a dedicated goroutine, never on the
// goroutine that caused the change. Poller drives interval-based change
// detection for backends without native events.
package watch
