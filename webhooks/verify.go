package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const DefaultSignatureHeader = "X-LeadSync-Signature"

// HMACVerifier checks a hex encoded HMAC-SHA256 of the raw body. A "sha256="
// prefix on the header value is accepted.
type HMACVerifier struct {
	Header string
	Secret string
}

func NewHMACVerifier(secret string) HMACVerifier {
	return HMACVerifier{Header: DefaultSignatureHeader, Secret: strings.TrimSpace(secret)}
}

func (v HMACVerifier) Verify(_ context.Context, in Inbound) error {
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}
	header := headerValue(in.Headers, headerName)
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", headerName)
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, "sha256="))
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, Sign(secret, in.Body)) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

var _ Verifier = HMACVerifier{}
