// Package transcript records each finished query, with its full message history,
// to a Store. The Writer is a conversation callback, a failed write is logged
// and never fails the query.
package transcript
