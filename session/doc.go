// Package session composes the transport and the tool registry
// into a connection to one tool server.
//
// A Session holds at most one open transport. It admits one query at a time
// through Acquire.
package session
