// Package server implements the TCP front end of the variable store.
//
// A Server owns no state of its own beyond bookkeeping: the variable table
// is injected, and every accepted connection is tracked in a registry.
// Each connection gets its own goroutine running a read/parse/apply/reply
// loop; the handlers are supervised by a WaitGroup so shutdown can wait
// for all of them.
//
// # Basic Usage
//
//	tbl := table.New(0)
//	srv := server.New(server.Config{Addr: ":12345"}, tbl)
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
// Idle -> Listening -> ShuttingDown -> Stopped. Cancelling the context (or
// calling Shutdown) closes the listener, closes every registered
// connection, and waits for the handlers before Serve returns.
//
// # Locking
//
// The table and the registry each have their own mutex and neither is held
// while the other is taken. Events and metrics are recorded after the table
// operation has released its lock.
package server
