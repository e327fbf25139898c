// Package relay implements the remote side of the UDP tunnel.
//
// The relay listens on a single UDP socket for tunnel frames from agents.
// Every distinct agent endpoint gets a Session: a dedicated UDP socket bound
// to an ephemeral port that sends decoded payloads to their real destinations
// and a reply listener that wraps each reply in a tunnel frame addressed with
// the replying destination and returns it to the agent.
//
// Frame flow:
//
//	agent --frame(dst, payload)--> Manager.Serve --payload--> dst
//	agent <--frame(dst, reply)---- Session.readLoop <--reply-- dst
//
// A receive error on a session socket tears down only that session; the
// client gets a fresh session with its next frame. A receive error on the
// listening socket ends Serve.
package relay
