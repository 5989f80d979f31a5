package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("payment-service", &buf, "info")

	log.Info("Order created", map[string]interface{}{"order_id": "o-1", "amount": 5000})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "payment-service", entry["service"])
	assert.Equal(t, "Order created", entry["message"])
	assert.Equal(t, "o-1", entry["order_id"])
	assert.EqualValues(t, 5000, entry["amount"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("payment-service", &buf, "warn")

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warn("shown", nil)
	assert.Contains(t, buf.String(), `"shown"`)
}
