// Package notifier is the asynchronous delivery queue between the monitor
// and the messaging transport.
//
// Notify never blocks: a notification is deduplicated, queued and later sent
// by a small worker pool behind a shared rate limiter. A full queue drops the
// notification and reports ErrQueueFull. Delivery failures are logged and
// published on the event bus; retries are off unless RetryMax is set.
package notifier
