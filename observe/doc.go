// Package observe instruments outbound AI calls: client spans, call and
// retry metrics, and redacting structured logs.
//
// Middleware wraps the call itself; RetryRecorder and QueueWaitRecorder
// plug into the resilience gate's observer slots so retried attempts and
// admission queue waits surface in the same metric set.
package observe
