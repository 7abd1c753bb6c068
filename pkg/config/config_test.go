package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverAuto, cfg.Storage.Driver)
	assert.Equal(t, DriverFile, cfg.StorageDriver())
	assert.Equal(t, DisciplineMutex, cfg.Lock.Discipline)
	assert.Equal(t, "data", cfg.Files.Dir)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.AMQP.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Lock.Timeout)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
files:
  dir: /var/lib/shop
  read_only: true
lock:
  discipline: actor
  timeout: 3s
redis:
  addr: localhost:6379
`)
	t.Setenv("MONGODB_URI", "mongodb+srv://user:pw@cluster0.example.net/shop")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Files.ReadOnly)
	assert.Equal(t, "/var/lib/shop", cfg.Files.Dir)
	assert.Equal(t, DisciplineActor, cfg.Lock.Discipline)
	assert.Equal(t, 3*time.Second, cfg.Lock.Timeout)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, DriverMongo, cfg.StorageDriver())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown driver", body: "storage:\n  driver: postgres\n"},
		{name: "mongo without uri", body: "storage:\n  driver: mongo\n"},
		{name: "etcd without endpoints", body: "lock:\n  discipline: etcd\n"},
		{name: "unknown discipline", body: "lock:\n  discipline: semaphore\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestMongoDBConfig_Usable(t *testing.T) {
	assert.True(t, (&MongoDBConfig{URI: "mongodb://127.0.0.1:27017/shop"}).Usable())
	assert.True(t, (&MongoDBConfig{URI: "MONGODB+SRV://x.example.net"}).Usable())
	assert.False(t, (&MongoDBConfig{URI: "https://x.example.net"}).Usable())
	assert.False(t, (&MongoDBConfig{}).Usable())
}
