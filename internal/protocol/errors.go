package protocol

import "fmt"

// SocketError reports a send or receive failure on one of the tunnel sockets.
//
// A SocketError from a session reply listener ends that session only. A
// SocketError from the agent's inbound loop or the relay's main loop ends the
// loop and is returned to the caller.
type SocketError struct {
	Op   string // "receive" or "send"
	Addr string // local or remote address involved, if known
	Err  error
}

func (e *SocketError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("socket %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("socket %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *SocketError) Unwrap() error {
	return e.Err
}
