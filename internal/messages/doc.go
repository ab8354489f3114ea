// Package messages defines the typed topics and payloads exchanged on the
// switchboard bus.
//
// Every topic family has one payload type. A Topic[T] binds a topic name to
// that type, and Handle turns a typed handler into a broker Route that
// decodes and validates the payload before the handler ever sees it. Consumers
// therefore never inspect raw JSON, and malformed messages are rejected at the
// topic boundary with a *PayloadError.
package messages
