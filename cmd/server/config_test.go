package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvThenFlags(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "env.db")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("SCHEDULER_INTERVAL", "30s")
	t.Setenv("SCHEDULER_ENABLED", "not-a-bool")

	cfg, err := loadConfig([]string{"-db", ":memory:"})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.True(t, cfg.SchedulerEnabled)
}

func TestLoadConfig_FlagClearsBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092")

	cfg, err := loadConfig([]string{"-kafka-brokers", ""})
	require.NoError(t, err)
	assert.Empty(t, cfg.KafkaBrokers)

	_, err = loadConfig([]string{"-unknown"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	log := newLogger(Config{LogLevel: "debug", LogFormat: "text"})
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log = newLogger(Config{LogLevel: "loud"})
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}
