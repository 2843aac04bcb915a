package email

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "test-webhook-secret"

func freshTimestamp() string {
	return fmt.Sprintf("%d", time.Now().Unix())
}

func TestVerifySignatureValid(t *testing.T) {
	body := []byte(`{"from":"jan@example.nl"}`)
	ts := freshTimestamp()
	sig := Sign(testSecret, ts, body)

	assert.NoError(t, VerifySignature(testSecret, sig, ts, body))
}

func TestVerifySignatureWrongSecret(t *testing.T) {
	body := []byte(`{"from":"jan@example.nl"}`)
	ts := freshTimestamp()
	sig := Sign("другой-секрет", ts, body)

	assert.ErrorIs(t, VerifySignature(testSecret, sig, ts, body), ErrBadSignature)
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	ts := freshTimestamp()
	sig := Sign(testSecret, ts, []byte(`{"from":"jan@example.nl"}`))

	err := VerifySignature(testSecret, sig, ts, []byte(`{"from":"evil@example.nl"}`))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifySignatureStaleTimestamp(t *testing.T) {
	body := []byte(`{}`)
	ts := fmt.Sprintf("%d", time.Now().Add(-10*time.Minute).Unix())
	sig := Sign(testSecret, ts, body)

	assert.ErrorIs(t, VerifySignature(testSecret, sig, ts, body), ErrStaleTimestamp)
}

func TestVerifySignatureFutureTimestamp(t *testing.T) {
	body := []byte(`{}`)
	ts := fmt.Sprintf("%d", time.Now().Add(10*time.Minute).Unix())
	sig := Sign(testSecret, ts, body)

	assert.ErrorIs(t, VerifySignature(testSecret, sig, ts, body), ErrStaleTimestamp)
}

func TestVerifySignatureGarbageTimestamp(t *testing.T) {
	assert.ErrorIs(t, VerifySignature(testSecret, "sig", "не-число", []byte(`{}`)), ErrStaleTimestamp)
}
