// Package reconcile keeps vault leads eventually consistent with CRM
// opportunities.
//
// A full sweep walks every opportunity page, deep-fetches each opportunity
// with its contact and notes in small concurrent batches, normalizes the
// result and overwrites the vault lead. Webhook events take the same path
// for a single record. Both paths are idempotent total overwrites, so the
// sweep repairs anything an event missed.
package reconcile
