// Package credentials provides the shared credential store and the
// set-if-absent lock used to serialize token refresh across processes.
//
// Redis backed implementations are used in production. The memory variants
// share the same semantics and back tests and single-process setups.
package credentials
