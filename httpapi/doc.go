// Package httpapi is the HTTP front end of the agent.
//
// Routes:
//
//	GET  /         banner
//	POST /query    {"query": "..."} returns {"messages": [...]}
//	GET  /tools    tools offered by the connected server
//	POST /connect  reconnects the session to the configured server
//	GET  /healthz  {"connected": bool}
//
// Core failures are mapped to a single opaque 500 response,
// a disconnected session to 503 and a busy session to 429.
package httpapi
