// Package conversation runs the turn loop of a query: it alternates between
// the model and the tools it requests until the model answers with plain text.
//
// The history of a query is local to SubmitQuery and returned to the caller,
// the Engine keeps no conversation state between queries.
package conversation
