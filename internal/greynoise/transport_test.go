package greynoise

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeClientPair writes a self-signed certificate and a key encrypted with
// passphrase, returning their paths.
func writeClientPair(t *testing.T, passphrase string) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "greylookup-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte(passphrase), x509.PEMCipherAES256) //nolint:staticcheck // RFC 1423 keys
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	return certPath, keyPath
}

// =============================================================================
// Client Certificate Tests
// =============================================================================

func TestNewHTTPClient_EncryptedKey(t *testing.T) {
	certPath, keyPath := writeClientPair(t, "s3cret")

	client, err := NewHTTPClient(RequestConfig{Cert: certPath, Key: keyPath, Passphrase: "s3cret", RejectUnauthorized: true})
	require.NoError(t, err)
	assert.Len(t, client.Transport.(*http.Transport).TLSClientConfig.Certificates, 1)

	_, err = NewHTTPClient(RequestConfig{Cert: certPath, Key: keyPath, Passphrase: "wrong"})
	assert.Error(t, err)

	// Without a passphrase the encrypted key cannot be parsed.
	_, err = NewHTTPClient(RequestConfig{Cert: certPath, Key: keyPath})
	assert.Error(t, err)
}
