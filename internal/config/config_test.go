package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_CODE_TTL", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.Equal(t, 30*time.Minute, cfg.PaymentCodeTTL)
	assert.Equal(t, 3, cfg.PaymentMaxAttempts)
	assert.Equal(t, "request", cfg.SeasonBy)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("PAYMENT_CODE_TTL", "10m")
	t.Setenv("PAYMENT_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "-5s")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 10*time.Minute, cfg.PaymentCodeTTL)
	assert.Equal(t, 3, cfg.PaymentMaxAttempts)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}
