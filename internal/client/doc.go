// Package client talks to a shell server.
//
// Conn is the programmatic side: Dial, then Save, Read and Clear, or Send a
// raw command line. Replies are read by a background goroutine, so a
// disconnect is noticed even while nothing is being sent.
//
//	conn, err := client.Dial(ctx, "127.0.0.1:12345", "alice")
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	_ = conn.Save("color", "blue")
//	v, err := conn.Read(ctx, "color") // "blue"
//
// Saves are not acknowledged. A save the server rejects produces an ERR
// line that Read sets aside; SkippedErrors returns those lines.
//
// Shell is the interactive side used by dbshell-client. It understands
//
//	connect <ip>         connect to <ip> on the configured port
//	save <name>:<value>  store a variable
//	read <name>          print a variable or "NO such variable"
//	clear                remove every variable
//	exit                 leave the shell
//
// and ends with ErrDisconnected when the server goes away.
package client
