// Package llms provides the provider-neutral conversation model used by the agent:
// messages, the closed set of content parts (text, tool call, tool result),
// model responses and call options.
//
// Provider implementations live in subpackages and translate these types
// to and from the provider wire format.
package llms
