package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchemaPath = "../../schema/config.schema.json"

// writeConfig writes a JSON config into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `{
  "broker": {"host": "broker.local", "port": 1883}
}`

const fullConfig = `{
  "broker": {
    "host": "broker.local",
    "port": 8883,
    "insecure": false,
    "tls": {
      "ca_cert_path": "/certs/ca.pem",
      "client_cert_path": "/certs/client.pem",
      "client_key_path": "/certs/client.key",
      "verify_server": true
    }
  },
  "tracker": {
    "healthcheck": {"port": 9090},
    "schema_validation": false,
    "tuning": {"gating_distance": 3.5, "max_misses": 5}
  },
  "scene": {
    "id": "warehouse-1",
    "name": "Warehouse Floor 1",
    "thing_type": "person",
    "cameras": {
      "cam1": {
        "intrinsics": {"fx": 905.0, "fy": 905.0, "cx": 640.0, "cy": 360.0},
        "translation": [0, 0, 4.0],
        "rotation_deg": [180, 0, 0]
      }
    }
  },
  "observability": {"logging": {"level": "debug"}}
}`

func TestLoad_MinimalDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig), testSchemaPath)
	require.NoError(t, err)

	assert.Equal(t, "broker.local", cfg.Broker.Host)
	assert.Equal(t, 1883, cfg.Broker.Port)
	assert.False(t, cfg.Broker.Insecure)
	assert.Nil(t, cfg.Broker.TLS)
	assert.Equal(t, DefaultHealthcheckPort, cfg.HealthcheckPort)
	assert.True(t, cfg.SchemaValidation)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultSceneID, cfg.Scene.ID)
	assert.Equal(t, DefaultThingType, cfg.Scene.ThingType)
	assert.Equal(t, DefaultMaxMisses, cfg.Tuning.MaxMisses)
	assert.InDelta(t, DefaultGatingDistance, cfg.Tuning.GatingDistance, 1e-9)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig), testSchemaPath)
	require.NoError(t, err)

	assert.Equal(t, 8883, cfg.Broker.Port)
	require.NotNil(t, cfg.Broker.TLS)
	assert.Equal(t, "/certs/ca.pem", cfg.Broker.TLS.CACertPath)
	assert.True(t, cfg.Broker.TLS.VerifyServer)
	assert.Equal(t, 9090, cfg.HealthcheckPort)
	assert.False(t, cfg.SchemaValidation)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "warehouse-1", cfg.Scene.ID)
	assert.Equal(t, "Warehouse Floor 1", cfg.Scene.Name)
	assert.Equal(t, 5, cfg.Tuning.MaxMisses)
	assert.InDelta(t, 3.5, cfg.Tuning.GatingDistance, 1e-9)

	cam, ok := cfg.Scene.Cameras["cam1"]
	require.True(t, ok)
	assert.InDelta(t, 905.0, cam.Intrinsics.Fx, 1e-9)
	assert.InDelta(t, 4.0, cam.Translation[2], 1e-9)
}

func TestLoad_DefaultTuning(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig), testSchemaPath)
	require.NoError(t, err)

	want := TuningConfig{
		GatingDistance:   DefaultGatingDistance,
		MaxMisses:        DefaultMaxMisses,
		HitsToConfirm:    DefaultHitsToConfirm,
		ProcessNoisePos:  DefaultProcessNoisePos,
		ProcessNoiseVel:  DefaultProcessNoiseVel,
		MeasurementNoise: DefaultMeasurementNoise,
	}
	if diff := cmp.Diff(want, cfg.Tuning); diff != "" {
		t.Errorf("tuning defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing broker", `{}`},
		{"missing port", `{"broker": {"host": "x"}}`},
		{"port out of range", `{"broker": {"host": "x", "port": 70000}}`},
		{"unknown top-level key", `{"broker": {"host": "x", "port": 1883}, "bogus": 1}`},
		{"bad log level", `{"broker": {"host": "x", "port": 1883}, "observability": {"logging": {"level": "loud"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), testSchemaPath)
			assert.Error(t, err)
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), testSchemaPath)
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `{not json`), testSchemaPath)
	assert.Error(t, err)

	badExt := filepath.Join(t.TempDir(), "tracker.yaml")
	require.NoError(t, os.WriteFile(badExt, []byte(minimalConfig), 0o600))
	_, err = Load(badExt, testSchemaPath)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvHealthcheckPort, "9999")
	t.Setenv(EnvMQTTHost, "other.broker")
	t.Setenv(EnvMQTTPort, "8883")
	t.Setenv(EnvMQTTInsecure, "yes")
	t.Setenv(EnvSchemaValidation, "0")

	cfg, err := Load(writeConfig(t, minimalConfig), testSchemaPath)
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 9999, cfg.HealthcheckPort)
	assert.Equal(t, "other.broker", cfg.Broker.Host)
	assert.Equal(t, 8883, cfg.Broker.Port)
	assert.True(t, cfg.Broker.Insecure)
	assert.False(t, cfg.SchemaValidation)
}

// Empty environment variables must behave exactly as if they were unset,
// for every overridable field.
func TestLoad_EmptyEnvIsUnset(t *testing.T) {
	for _, name := range []string{
		EnvLogLevel, EnvHealthcheckPort, EnvMQTTHost, EnvMQTTPort,
		EnvMQTTInsecure, EnvSchemaValidation, EnvTLSCACert,
		EnvTLSClientCert, EnvTLSClientKey, EnvTLSVerifyServer,
	} {
		t.Setenv(name, "")
	}

	cfg, err := Load(writeConfig(t, fullConfig), testSchemaPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HealthcheckPort)
	assert.Equal(t, "broker.local", cfg.Broker.Host)
	assert.Equal(t, 8883, cfg.Broker.Port)
	require.NotNil(t, cfg.Broker.TLS)
	assert.Equal(t, "/certs/ca.pem", cfg.Broker.TLS.CACertPath)
}

func TestLoad_InvalidOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"bad log level", EnvLogLevel, "verbose"},
		{"non-numeric port", EnvHealthcheckPort, "eighty"},
		{"privileged health port", EnvHealthcheckPort, "80"},
		{"mqtt port out of range", EnvMQTTPort, "0"},
		{"bad bool", EnvMQTTInsecure, "maybe"},
		{"bad tls verify", EnvTLSVerifyServer, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load(writeConfig(t, minimalConfig), testSchemaPath)
			assert.Error(t, err)
		})
	}
}

// A TLS sub-config is synthesized when the file has none but any TLS
// environment variable is set.
func TestLoad_TLSSynthesizedFromEnv(t *testing.T) {
	t.Setenv(EnvTLSCACert, "/env/ca.pem")
	t.Setenv(EnvTLSVerifyServer, "false")

	cfg, err := Load(writeConfig(t, minimalConfig), testSchemaPath)
	require.NoError(t, err)

	require.NotNil(t, cfg.Broker.TLS)
	assert.Equal(t, "/env/ca.pem", cfg.Broker.TLS.CACertPath)
	assert.False(t, cfg.Broker.TLS.VerifyServer)
	assert.Empty(t, cfg.Broker.TLS.ClientCertPath)
}

func TestLoad_TLSEnvOverridesFileValues(t *testing.T) {
	t.Setenv(EnvTLSClientKey, "/env/client.key")

	cfg, err := Load(writeConfig(t, fullConfig), testSchemaPath)
	require.NoError(t, err)

	require.NotNil(t, cfg.Broker.TLS)
	assert.Equal(t, "/env/client.key", cfg.Broker.TLS.ClientKeyPath)
	assert.Equal(t, "/certs/ca.pem", cfg.Broker.TLS.CACertPath)
}
