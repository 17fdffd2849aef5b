// Package protocol implements the line protocol spoken between the shell
// client and the server.
//
// Requests are newline-terminated text lines:
//
//	<clientName> save <name>:<value>
//	<clientName> read <name>
//	<clientName> clear
//
// The server answers a read with the raw value or "NO such variable", and
// any rejected request with "ERR <reason>". Successful save and clear get
// no reply.
//
// Parse never panics on malformed input; it returns a *Error whose Reason
// is one of the Err* sentinels, so callers can use errors.Is.
package protocol
