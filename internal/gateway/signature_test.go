package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPaymentSignature_Valid(t *testing.T) {
	sig := sign("key_secret", []byte("order_abc|pay_xyz"))
	assert.True(t, VerifyPaymentSignature("order_abc", "pay_xyz", sig, "key_secret"))
}

func TestVerifyPaymentSignature_WrongSecret(t *testing.T) {
	sig := sign("other_secret", []byte("order_abc|pay_xyz"))
	assert.False(t, VerifyPaymentSignature("order_abc", "pay_xyz", sig, "key_secret"))
}

func TestVerifyPaymentSignature_TamperedPaymentID(t *testing.T) {
	sig := sign("key_secret", []byte("order_abc|pay_xyz"))
	assert.False(t, VerifyPaymentSignature("order_abc", "pay_evil", sig, "key_secret"))
}

func TestVerifyPaymentSignature_EmptySignature(t *testing.T) {
	assert.False(t, VerifyPaymentSignature("order_abc", "pay_xyz", "", "key_secret"))
}

func TestVerifyPaymentSignature_EmptySecret(t *testing.T) {
	sig := sign("", []byte("order_abc|pay_xyz"))
	assert.False(t, VerifyPaymentSignature("order_abc", "pay_xyz", sig, ""))
}

func TestVerifyWebhookSignature_Valid(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := sign("webhook_secret", body)
	assert.True(t, VerifyWebhookSignature(body, sig, "webhook_secret"))
}

func TestVerifyWebhookSignature_TamperedBody(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := sign("webhook_secret", body)
	assert.False(t, VerifyWebhookSignature([]byte(`{"event":"payment.captured" }`), sig, "webhook_secret"))
}

func TestVerifyWebhookSignature_GarbageSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	assert.False(t, VerifyWebhookSignature(body, "not-a-hex-signature", "webhook_secret"))
}

func TestVerifyWebhookSignature_EmptySecret(t *testing.T) {
	body := []byte(`{"event":"payment.captured"}`)
	sig := sign("webhook_secret", body)
	assert.False(t, VerifyWebhookSignature(body, sig, ""))
}
