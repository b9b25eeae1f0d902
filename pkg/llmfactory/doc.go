// Package llmfactory creates the language model client from configuration.
package llmfactory
