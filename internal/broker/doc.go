// Package broker provides the publish/subscribe client shared by every
// switchboard service.
//
// A Client owns one long-lived connection to a Transport (Redis Pub/Sub in
// production, an in-process MemoryHub for single-process runs and tests) and
// adds the guarantees the rest of the system relies on:
//
//   - Connect retries with exponential backoff and is idempotent.
//   - Publish wraps payloads in an Envelope ({topic, payload, timestamp}) and
//     fails with a *PublishError while disconnected.
//   - Subscribe matches topics exactly. Wildcard patterns are rejected.
//   - Every Subscription has its own FIFO mailbox and delivery goroutine, so
//     a subscriber sees the messages of one topic in publish order, exactly
//     once, and a slow handler never stalls other subscribers.
//   - HealthCheck performs a round-trip ping and never fails loudly.
//
// The Client is safe for concurrent use by any number of services.
package broker
