// Package httpapi exposes the inbound HTTP surface: the CRM webhook intake,
// the OAuth connect callback and a health check.
package httpapi
