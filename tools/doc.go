// Package tools discovers the tools offered by a connected server,
// translates their schemas for the model and executes tool calls.
package tools
