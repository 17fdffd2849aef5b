// Package monitor serves a read-only HTTP view of a running server.
//
// Routes:
//
//	GET /api/status       table size, capacity, live connections, counters
//	GET /api/connections  registered connections in accept order
//	GET /api/connections/{id}  one registered connection
//	GET /api/variables    every stored variable in insertion order
//	/ws                   websocket stream of server events as JSON
//
// The monitor never mutates the table; all writes go through the shell
// protocol.
package monitor
