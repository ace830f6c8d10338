// Package indexed implements a LOCAL backend on an embedded Badger
// database.
//
// Changes are detected by polling the whole store every 800ms. When the
// store is split between a page and a worker, the page notifies the worker
// after each write through a messaging.Sender, and the worker polls as
// soon as it hears about it.
package indexed
