package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vladislavdragonenkov/campusmarket/internal/app"
)

func TestStartupFields_OmitSecrets(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.JWTSecret = "super-secret"
	cfg.PostgresDSN = "postgres://market:password@db:5432/market"
	cfg.KafkaBrokers = []string{"kafka:9092"}

	fields := startupFields(cfg)

	assert.Equal(t, ":8080", fields["http_addr"])
	assert.Equal(t, true, fields["kafka_enabled"])
	for _, value := range fields {
		text := fmt.Sprint(value)
		assert.NotContains(t, text, "secret")
		assert.NotContains(t, text, "password")
	}
}
