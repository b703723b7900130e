// Package bus is the publish/subscribe engine of the event bus.
//
// It glues the envelope model to the ordered-log store: the Publisher
// classifies and appends envelopes, the GroupManager owns consumer-group
// lifecycle, the Consumer runs the read-dispatch-acknowledge loop, the
// RetryCoordinator bounds failing handlers and dead-letters exhausted
// entries, and the SafePublisher gives synchronous business code a
// fire-and-forget publish path.
//
// Delivery is at least once: handlers must tolerate redelivery, the bus
// does not deduplicate.
package bus
