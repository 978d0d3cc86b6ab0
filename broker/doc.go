// Package broker implements the request/response dispatch protocol that
// lets any number of clients delegate tool calls to a pool of stateless
// worker processes.
//
// Requests travel over a consumer-group work queue so exactly one worker in
// the group processes each request; responses travel over a fan-out channel
// that every client observes, each filtering by its own correlation id. A
// [Client] call resolves exactly once: with the matching response, or with
// [ErrTimeout] when the deadline passes first, in which case a late response
// for that id is discarded.
//
// The [Worker] survives anything a handler does (unknown tools, provider
// failures, panics, malformed messages) by converting failures into
// structured error responses and skipping what it cannot parse.
package broker
