// Package storage provides the persistence backends for authpersist.
//
// Every backend implements Backend, a small context-aware key-value
// contract whose values are compact JSON text. Concrete backends live in
// subpackages:
//
//   - memory: volatile map, lost on exit
//   - local: one file per key in a directory shared by all processes
//   - scoped: per-process directory removed when the process ends
//   - indexed: Badger database shared by a page process and a worker
//   - hostasync: adapter for an asynchronous store supplied by the host
//
// Backends that can see writes made by other processes report them to
// listeners through the watch package. Registry hands out one instance per
// backend identity.
package storage
