package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/outbox"
)

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestApplyPlatformDefaults_ExplicitValuesWin(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://localhost/promo",
			Engine:      EngineConfig{MaxCommitAttempts: 5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "outbox without brokers",
			mutate:  func(c *Config) { c.Outbox = OutboxConfig{Enabled: true} },
			wantErr: "no Kafka brokers",
		},
		{
			name: "outbox with brokers",
			mutate: func(c *Config) {
				c.Outbox = OutboxConfig{Enabled: true, Kafka: outbox.Config{Brokers: []string{"kafka:9092"}}}
			},
		},
		{
			name:    "zero commit attempts",
			mutate:  func(c *Config) { c.Engine.MaxCommitAttempts = 0 },
			wantErr: "max commit attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
