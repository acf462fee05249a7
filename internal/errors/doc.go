// Package errors defines the error taxonomy shared by the protocol client,
// the request queue, and the tool registry.
//
// Errors carry a structural Kind so retry policy never has to match on
// message text.
package errors
