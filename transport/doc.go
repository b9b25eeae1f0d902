// Package transport owns the tool server child process and its stdio stream.
//
// Open resolves the interpreter from the script suffix, spawns the process
// through NewChannel and returns a Transport that must be closed by the caller.
package transport
