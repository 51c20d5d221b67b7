package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variable names for runtime overrides. These take effect after
// the config file is loaded and validated; an empty value is treated as
// unset so deployment templates may export every variable unconditionally.
const (
	EnvLogLevel         = "TRACKER_LOG_LEVEL"
	EnvHealthcheckPort  = "TRACKER_HEALTHCHECK_PORT"
	EnvMQTTHost         = "TRACKER_MQTT_HOST"
	EnvMQTTPort         = "TRACKER_MQTT_PORT"
	EnvMQTTInsecure     = "TRACKER_MQTT_INSECURE"
	EnvTLSCACert        = "TRACKER_MQTT_TLS_CA_CERT"
	EnvTLSClientCert    = "TRACKER_MQTT_TLS_CLIENT_CERT"
	EnvTLSClientKey     = "TRACKER_MQTT_TLS_CLIENT_KEY"
	EnvTLSVerifyServer  = "TRACKER_MQTT_TLS_VERIFY_SERVER"
	EnvSchemaValidation = "TRACKER_MQTT_SCHEMA_VALIDATION"
)

// getEnv returns the value of name, or ok=false when the variable is unset
// or empty.
func getEnv(name string) (string, bool) {
	v := os.Getenv(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// ParseLogLevel validates a log level string. The source name is included
// in the error so operators can tell a bad env var from a bad file value.
func ParseLogLevel(level, source string) (string, error) {
	switch level {
	case "trace", "debug", "info", "warn", "warning", "error":
		return level, nil
	}
	return "", fmt.Errorf("invalid %s: %s (must be trace|debug|info|warn|error)", source, level)
}

// ParsePort parses and range-checks a port value.
func ParsePort(s, source string, minPort, maxPort int) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", source, s)
	}
	if port < minPort || port > maxPort {
		return 0, fmt.Errorf("%s out of range: %d (must be %d-%d)", source, port, minPort, maxPort)
	}
	return port, nil
}

// ParseBool parses the boolean spellings accepted for overrides.
func ParseBool(s, source string) (bool, error) {
	switch s {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid %s: %s (must be true/false, 1/0, or yes/no)", source, s)
}

// applyEnvOverrides mutates cfg in place with any set environment
// variables. Invalid values are errors; the service must not start with a
// half-applied override.
func applyEnvOverrides(cfg *ServiceConfig) error {
	if v, ok := getEnv(EnvLogLevel); ok {
		level, err := ParseLogLevel(v, EnvLogLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if v, ok := getEnv(EnvHealthcheckPort); ok {
		port, err := ParsePort(v, EnvHealthcheckPort, 1024, 65535)
		if err != nil {
			return err
		}
		cfg.HealthcheckPort = port
	}

	if v, ok := getEnv(EnvMQTTHost); ok {
		cfg.Broker.Host = v
	}

	if v, ok := getEnv(EnvMQTTPort); ok {
		port, err := ParsePort(v, EnvMQTTPort, 1, 65535)
		if err != nil {
			return err
		}
		cfg.Broker.Port = port
	}

	if v, ok := getEnv(EnvMQTTInsecure); ok {
		insecure, err := ParseBool(v, EnvMQTTInsecure)
		if err != nil {
			return err
		}
		cfg.Broker.Insecure = insecure
	}

	if v, ok := getEnv(EnvSchemaValidation); ok {
		enabled, err := ParseBool(v, EnvSchemaValidation)
		if err != nil {
			return err
		}
		cfg.SchemaValidation = enabled
	}

	return applyTLSEnvOverrides(cfg)
}

// applyTLSEnvOverrides synthesizes a TLS sub-config when the file had none
// but any TLS variable is set, so TLS can be driven entirely from the
// environment.
func applyTLSEnvOverrides(cfg *ServiceConfig) error {
	caCert, haveCA := getEnv(EnvTLSCACert)
	clientCert, haveCert := getEnv(EnvTLSClientCert)
	clientKey, haveKey := getEnv(EnvTLSClientKey)
	verify, haveVerify := getEnv(EnvTLSVerifyServer)

	if !haveCA && !haveCert && !haveKey && !haveVerify {
		return nil
	}

	if cfg.Broker.TLS == nil {
		cfg.Broker.TLS = &TLSConfig{VerifyServer: true}
	}

	if haveCA {
		cfg.Broker.TLS.CACertPath = caCert
	}
	if haveCert {
		cfg.Broker.TLS.ClientCertPath = clientCert
	}
	if haveKey {
		cfg.Broker.TLS.ClientKeyPath = clientKey
	}
	if haveVerify {
		v, err := ParseBool(verify, EnvTLSVerifyServer)
		if err != nil {
			return err
		}
		cfg.Broker.TLS.VerifyServer = v
	}

	return nil
}
