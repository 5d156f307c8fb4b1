// Package webhooks turns inbound CRM deliveries into reconcile events.
//
// Delivery processing is driven by a claim lifecycle:
// pending/retry_ready -> processing -> processed|dead.
// A redelivered webhook whose claim already completed is acknowledged without
// reaching the engine again; a failed one becomes claimable after its retry
// delay.
package webhooks
