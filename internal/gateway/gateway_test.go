package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"investpay/pkg/domain"
	"investpay/pkg/errors"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"orderId":"x","status":"success"}`)
	sig := Sign(secret, body)

	assert.NoError(t, VerifySignature(secret, body, sig))
	assert.NoError(t, VerifySignature(secret, body, "sha256="+sig))

	assert.ErrorIs(t, VerifySignature(secret, append(body, ' '), sig), errors.ErrUnverifiedCallback)
	assert.ErrorIs(t, VerifySignature([]byte("other"), body, sig), errors.ErrUnverifiedCallback)
	assert.ErrorIs(t, VerifySignature(secret, body, ""), errors.ErrUnverifiedCallback)
	assert.ErrorIs(t, VerifySignature(secret, body, "zz-not-hex"), errors.ErrUnverifiedCallback)
	assert.ErrorIs(t, VerifySignature(nil, body, Sign(nil, body)), errors.ErrUnverifiedCallback)
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"orderId":"6f1c1d4e-8a38-4b43-9d2f-0d1b3c9e7a55","handle":"h1","status":"PAID","amount":5000,"currency":"usd"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, cb.Outcome)
	assert.Equal(t, int64(5000), cb.Amount)
	assert.Equal(t, "USD", cb.Currency)
	assert.Equal(t, "h1", cb.Handle)

	bad := []string{
		`not json`,
		`{"orderId":"nope","status":"success","amount":1}`,
		`{"orderId":"6f1c1d4e-8a38-4b43-9d2f-0d1b3c9e7a55","status":"weird","amount":1}`,
		`{"orderId":"6f1c1d4e-8a38-4b43-9d2f-0d1b3c9e7a55","status":"success","amount":"10"}`,
		`{"orderId":"6f1c1d4e-8a38-4b43-9d2f-0d1b3c9e7a55","status":"success","amount":10.5}`,
		`{"orderId":"6f1c1d4e-8a38-4b43-9d2f-0d1b3c9e7a55","status":"success","amount":0}`,
	}
	for _, body := range bad {
		_, err := ParseCallback([]byte(body))
		assert.ErrorIs(t, err, errors.ErrMalformedCallback, body)
	}
}

func TestMoneyConversion(t *testing.T) {
	assert.Equal(t, "50.25", ToMajor(5025, "USD").StringFixed(2))
	assert.Equal(t, "5025", ToMajor(5025, "JPY").String())

	minor, err := ToMinor(decimal.RequireFromString("50.25"), "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(5025), minor)

	_, err = ToMinor(decimal.RequireFromString("1.005"), "USD")
	assert.Error(t, err)

	minor, err = ToMinor(decimal.RequireFromString("1.005"), "KWD")
	require.NoError(t, err)
	assert.Equal(t, int64(1005), minor)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("whish")
	assert.ErrorIs(t, err, errors.ErrUnknownGateway)
	assert.Empty(t, r.Names())
}
