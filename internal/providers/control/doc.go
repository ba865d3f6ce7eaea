// Package control talks to the external controller control server.
//
// The control server owns the physical or virtual controllers bound to
// each hosted lobby: connecting them, toggling automated movement and
// anti-AFK, selecting a class, and storing the gamepad configuration.
// Every endpoint answers with a JSON envelope carrying "success" or
// "error"; Client turns the latter into *APIError.
//
// Requests go through a rate limiter and a circuit breaker, on top of a
// retrying transport for connection failures and 5xx answers.
package control
