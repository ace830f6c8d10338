// Package local implements the LOCAL persistence kind: one JSON file per
// key in a directory shared by cooperating processes.
//
// Writes go through a temp file and a rename. Changes by other processes
// reach listeners through fsnotify, or through a poller when events are
// unavailable or forced off with AUTHPERSIST_FORCE_POLLING.
package local
