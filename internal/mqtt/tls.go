package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/scenetrack/tracker/internal/config"
)

// buildTLSConfig assembles the mutual-TLS configuration for the broker
// connection. Every referenced file must exist; a missing file is a fatal
// construction-time error. A nil tlsCfg yields library-default TLS.
func buildTLSConfig(tlsCfg *config.TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsCfg == nil {
		return cfg, nil
	}

	if tlsCfg.CACertPath != "" {
		caPEM, err := os.ReadFile(tlsCfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("TLS CA certificate file not found: %s: %w", tlsCfg.CACertPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("TLS CA certificate file invalid: %s", tlsCfg.CACertPath)
		}
		cfg.RootCAs = pool
	}

	if tlsCfg.ClientCertPath != "" || tlsCfg.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.ClientCertPath, tlsCfg.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("TLS client certificate/key unusable (%s, %s): %w",
				tlsCfg.ClientCertPath, tlsCfg.ClientKeyPath, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	// Server verification is on by default; disabling it is an explicit
	// operator decision carried in the configuration.
	cfg.InsecureSkipVerify = !tlsCfg.VerifyServer

	return cfg, nil
}
