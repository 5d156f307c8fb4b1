// Package core contains the canonical leadsync domain: tenants, credentials,
// field mapping configs, vault leads, the error taxonomy and shared runtime
// configuration. Subsystem packages depend on core; core must not depend on
// the CRM client, storage adapters or transports.
package core
