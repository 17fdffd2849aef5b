// Package registry keeps the set of live client connections.
//
// The server adds every accepted connection and its handler removes it on
// exit, so Count always equals the number of running handlers. Shutdown
// uses CloseAll to unblock handlers waiting on a read.
package registry
