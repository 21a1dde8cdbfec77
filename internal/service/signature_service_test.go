package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := svc.BuildCanonicalString("POST", "/api/v1/orders/cron/release-escrow", 1708092000, "abc123nonce", "")

	signature := svc.Sign("cron-secret", payload)

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")
	assert.True(t, svc.Verify("cron-secret", payload, signature))
	assert.True(t, svc.Verify("cron-secret", payload, strings.ToUpper(signature)), "hex case is not significant")
}

func TestHMACSignatureService_VerifyFails(t *testing.T) {
	svc := NewHMACSignatureService()
	payload := "POST|/x|1|n|"
	signature := svc.Sign("correct-key", payload)

	tests := []struct {
		name      string
		secret    string
		payload   string
		signature string
	}{
		{"wrong key", "wrong-key", payload, signature},
		{"tampered payload", "correct-key", "POST|/x|2|n|", signature},
		{"empty signature", "correct-key", payload, ""},
		{"empty secret", "", payload, svc.Sign("", payload)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, svc.Verify(tt.secret, tt.payload, tt.signature))
		})
	}
}

func TestHMACSignatureService_BuildCanonicalString(t *testing.T) {
	svc := NewHMACSignatureService()

	got := svc.BuildCanonicalString("post", "/api/v1/orders/cron/release-escrow", 1708092000, "n-1", `{"dry":false}`)
	assert.Equal(t, `POST|/api/v1/orders/cron/release-escrow|1708092000|n-1|{"dry":false}`, got)
}

func TestHMACSignatureService_Deterministic(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.Equal(t, svc.Sign("k", "p"), svc.Sign("k", "p"))
	assert.NotEqual(t, svc.Sign("k", "p"), svc.Sign("k", "q"))
}
