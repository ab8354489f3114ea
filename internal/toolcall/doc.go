// Package toolcall implements request/response tool invocation on top of the
// publish/subscribe bus.
//
// The bus has no native request/response, so each call is correlated by a
// request id:
//
//  1. The Requester generates a unique id and derives the reply topic
//     tools.reply.<id> from it.
//  2. It subscribes to the reply topic before publishing the request, so a
//     fast responder can never answer into the void.
//  3. It publishes the ToolRequest on the request topic and waits for the
//     matching ToolResult or the deadline, whichever comes first.
//  4. The reply subscription and the pending entry are removed on every
//     path. A late reply finds no subscriber and is dropped.
//
// Replies carrying a different request id are protocol violations: they are
// logged and ignored, never matched to another caller.
//
// Invoke never returns an error. Timeouts, transport problems, malformed
// replies and tool failures all come back as an Outcome with a Failure, so a
// caller such as the reasoning loop can decide to retry, substitute or give up.
//
// The Responder is the other half: it executes requests through an Executor
// and publishes exactly one ToolResult per request to the embedded reply
// topic. Execution errors travel as data in the result's error field.
package toolcall
