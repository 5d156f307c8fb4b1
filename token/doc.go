// Package token manages the OAuth token lifecycle per CRM location.
//
// GetAccessToken serves cached tokens while they outlive the safety buffer.
// Near expiry, one caller across all processes wins the credential lock and
// rotates the token; losers poll the store under ContentionPolicy.
package token
