package mqtt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenetrack/tracker/internal/config"
)

// writeSelfSignedPair writes a self-signed certificate and key into dir and
// returns their paths.
func writeSelfSignedPair(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "tracker-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	certPath = filepath.Join(dir, "cert.pem")
	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	keyPath = filepath.Join(dir, "key.pem")
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestBuildTLSConfig_MutualAuth(t *testing.T) {
	certPath, keyPath := writeSelfSignedPair(t, t.TempDir())

	cfg, err := buildTLSConfig(&config.TLSConfig{
		CACertPath:     certPath,
		ClientCertPath: certPath,
		ClientKeyPath:  keyPath,
		VerifyServer:   true,
	})
	require.NoError(t, err)

	assert.NotNil(t, cfg.RootCAs)
	assert.Len(t, cfg.Certificates, 1)
	assert.False(t, cfg.InsecureSkipVerify)
}

func TestBuildTLSConfig_VerifyServerDisabled(t *testing.T) {
	cfg, err := buildTLSConfig(&config.TLSConfig{VerifyServer: false})
	require.NoError(t, err)
	assert.True(t, cfg.InsecureSkipVerify)
}

func TestBuildTLSConfig_MissingFiles(t *testing.T) {
	tests := []struct {
		name string
		tls  config.TLSConfig
	}{
		{"missing ca", config.TLSConfig{CACertPath: "/nope/ca.pem", VerifyServer: true}},
		{"missing key pair", config.TLSConfig{ClientCertPath: "/nope/c.pem", ClientKeyPath: "/nope/c.key", VerifyServer: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildTLSConfig(&tt.tls)
			assert.Error(t, err)
		})
	}
}

func TestBuildTLSConfig_InvalidCAPEM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0o600))

	_, err := buildTLSConfig(&config.TLSConfig{CACertPath: path, VerifyServer: true})
	assert.Error(t, err)
}

func TestBuildTLSConfig_NilMaterial(t *testing.T) {
	cfg, err := buildTLSConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)
}

func TestClearEmptyProxyEnvVars(t *testing.T) {
	t.Setenv("http_proxy", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("no_proxy", "keep.local")

	clearEmptyProxyEnvVars()

	_, set := os.LookupEnv("http_proxy")
	assert.False(t, set, "empty lowercase proxy var must be unset")
	_, set = os.LookupEnv("HTTPS_PROXY")
	assert.False(t, set, "empty uppercase proxy var must be unset")
	assert.Equal(t, "keep.local", os.Getenv("no_proxy"), "non-empty proxy var must survive")
}
