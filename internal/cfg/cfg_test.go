package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.50, s.RiskThreshold)
	assert.Equal(t, 0, s.SampleCount)
	assert.Equal(t, 5, s.TopKDrivers)
	assert.Equal(t, int64(0), s.RandomSeed)
	assert.Equal(t, 4, s.AttributorWorkers)
	assert.Equal(t, "data", s.DataPath)
	assert.Equal(t, ":8000", s.ListenAddr)
	assert.Equal(t, 9090, s.MetricsPort)
	assert.False(t, s.AuditRequired)
	assert.Equal(t, 10, s.RecentStatsLimit)
	assert.Equal(t, 10*time.Second, s.RequestTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RISK_THRESHOLD", "0.65")
	t.Setenv("ATTRIBUTION_SAMPLES", "500")
	t.Setenv("TOP_K_DRIVERS", "3")
	t.Setenv("RANDOM_SEED", "12345")
	t.Setenv("AUDIT_REQUIRED", "true")
	t.Setenv("REQUEST_TIMEOUT", "2s")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.65, s.RiskThreshold)
	assert.Equal(t, 500, s.SampleCount)
	assert.Equal(t, 3, s.TopKDrivers)
	assert.Equal(t, int64(12345), s.RandomSeed)
	assert.True(t, s.AuditRequired)
	assert.Equal(t, 2*time.Second, s.RequestTimeout)
}

func TestLoadFromYAML(t *testing.T) {
	content := `
policy:
  riskThreshold: 0.55
  topKDrivers: 7
attribution:
  sampleCount: 1000
  randomSeed: 99
  workers: 8
model:
  paramsPath: /models/params.json
  remoteTimeout: 3s
system:
  dataPath: /var/lib/creditd
  listenAddr: ":9000"
  metricsPort: 9100
  auditRequired: true
  recentStatsLimit: 25
  requestTimeout: 30s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.55, s.RiskThreshold)
	assert.Equal(t, 7, s.TopKDrivers)
	assert.Equal(t, 1000, s.SampleCount)
	assert.Equal(t, int64(99), s.RandomSeed)
	assert.Equal(t, 8, s.AttributorWorkers)
	assert.Equal(t, "/models/params.json", s.ModelParamsPath)
	assert.Equal(t, 3*time.Second, s.RemoteModelTimeout)
	assert.Equal(t, "/var/lib/creditd", s.DataPath)
	assert.Equal(t, ":9000", s.ListenAddr)
	assert.Equal(t, 9100, s.MetricsPort)
	assert.True(t, s.AuditRequired)
	assert.Equal(t, 25, s.RecentStatsLimit)
	assert.Equal(t, 30*time.Second, s.RequestTimeout)
}

func TestLoadYAMLEnvWins(t *testing.T) {
	content := `
policy:
  riskThreshold: 0.55
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RISK_THRESHOLD", "0.70")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.70, s.RiskThreshold)
}

func TestLoadYAMLDurationEnvWins(t *testing.T) {
	content := `
model:
  remoteTimeout: 3s
system:
  requestTimeout: 30s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("REMOTE_MODEL_TIMEOUT", "8s")
	t.Setenv("REQUEST_TIMEOUT", "2s")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Second, s.RemoteModelTimeout)
	assert.Equal(t, 2*time.Second, s.RequestTimeout)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"threshold zero", func(s *Settings) { s.RiskThreshold = 0 }},
		{"threshold one", func(s *Settings) { s.RiskThreshold = 1 }},
		{"negative samples", func(s *Settings) { s.SampleCount = -1 }},
		{"zero top-k", func(s *Settings) { s.TopKDrivers = 0 }},
		{"zero workers", func(s *Settings) { s.AttributorWorkers = 0 }},
		{"privileged metrics port", func(s *Settings) { s.MetricsPort = 80 }},
		{"zero recent limit", func(s *Settings) { s.RecentStatsLimit = 0 }},
		{"tiny request timeout", func(s *Settings) { s.RequestTimeout = time.Millisecond }},
		{"empty listen addr", func(s *Settings) { s.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{
				RiskThreshold:      0.5,
				TopKDrivers:        5,
				AttributorWorkers:  4,
				MetricsPort:        9090,
				RecentStatsLimit:   10,
				RequestTimeout:     10 * time.Second,
				RemoteModelTimeout: 5 * time.Second,
				ListenAddr:         ":8000",
			}
			tt.mutate(&s)
			assert.Error(t, validateSettings(&s))
		})
	}
}
