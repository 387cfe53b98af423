package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "DB_HOST", "DB_PORT", "PIPELINE_STORE", "PIPELINE_INTERVAL",
		"KAFKA_BROKERS", "OPENSKY_LAT_MIN", "OPENSKY_LAT_MAX", "OPENSKY_LON_MIN",
		"OPENSKY_LON_MAX", "OPENSKY_QPS", "RAW_STORE_ROOT", "METRICS_PORT")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, StoreDriverPostgres, cfg.Pipeline.StoreDriver)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 6.0, cfg.OpenSky.LatMin)
	assert.Equal(t, 97.5, cfg.OpenSky.LonMax)
	assert.Equal(t, "data/bronze/sourcefiles", cfg.RawStore.Root)
	assert.Equal(t, 8093, cfg.Metrics.Port)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("PIPELINE_STORE", StoreDriverMemory)
	t.Setenv("PIPELINE_INTERVAL", "5m")
	t.Setenv("OPENSKY_QPS", "2.5")
	t.Setenv("RAW_STORE_ROOT", "/tmp/raw")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, StoreDriverMemory, cfg.Pipeline.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, 2.5, cfg.OpenSky.RequestsPerSecond)
	assert.Equal(t, "/tmp/raw", cfg.RawStore.Root)
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-port")
	t.Setenv("PIPELINE_LOCK_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.LockTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RawStore: RawStoreConfig{Root: "raw"},
			OpenSky:  OpenSkyConfig{LatMin: 6, LatMax: 37.5, LonMin: 68, LonMax: 97.5, RequestsPerSecond: 1},
			Pipeline: PipelineConfig{StoreDriver: StoreDriverPostgres, Interval: 15 * time.Minute, LockTTL: 10 * time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown store", func(c *Config) { c.Pipeline.StoreDriver = "sqlite" }, "unknown PIPELINE_STORE"},
		{"empty root", func(c *Config) { c.RawStore.Root = "" }, "RAW_STORE_ROOT"},
		{"inverted latitude", func(c *Config) { c.OpenSky.LatMin = 40 }, "bounding box"},
		{"zero qps", func(c *Config) { c.OpenSky.RequestsPerSecond = 0 }, "OPENSKY_QPS"},
		{"short interval", func(c *Config) { c.Pipeline.Interval = time.Second }, "PIPELINE_INTERVAL"},
		{"zero lock ttl", func(c *Config) { c.Pipeline.LockTTL = 0 }, "PIPELINE_LOCK_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.ConnectionString())
}
