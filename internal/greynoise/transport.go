package greynoise

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"
)

// RequestConfig holds transport settings shared by every upstream call.
// Empty string fields are ignored.
type RequestConfig struct {
	Cert               string        `yaml:"cert"`
	Key                string        `yaml:"key"`
	Passphrase         string        `yaml:"passphrase"`
	CA                 string        `yaml:"ca"`
	Proxy              string        `yaml:"proxy"`
	RejectUnauthorized bool          `yaml:"reject_unauthorized"`
	Timeout            time.Duration `yaml:"timeout"`
}

// DefaultRequestConfig returns sensible defaults.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		RejectUnauthorized: true,
		Timeout:            30 * time.Second,
	}
}

// NewHTTPClient builds an *http.Client from the request settings.
func NewHTTPClient(cfg RequestConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.RejectUnauthorized, //nolint:gosec // operator opt-in
	}

	if cfg.Cert != "" && cfg.Key != "" {
		pair, err := loadKeyPair(cfg.Cert, cfg.Key, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}

	if cfg.CA != "" {
		pem, err := os.ReadFile(cfg.CA)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", cfg.CA)
		}
		tlsConfig.RootCAs = pool
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}, nil
}

// loadKeyPair reads a client certificate and key. When passphrase is set, an
// RFC 1423 encrypted PEM key is decrypted before parsing.
func loadKeyPair(certFile, keyFile, passphrase string) (tls.Certificate, error) {
	if passphrase == "" {
		return tls.LoadX509KeyPair(certFile, keyFile)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("no PEM data in %s", keyFile)
	}
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // RFC 1423 keys
		der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck // RFC 1423 keys
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decrypting client key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der})
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
