// Package crm is the HTTP client for the CRM REST API. Every call carries a
// location scoped bearer token and passes through the adaptive rate limit
// policy; non 2xx responses are classified into the leadsync error taxonomy.
package crm
