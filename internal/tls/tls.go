package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/clogs/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(ver) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveTLSVersions defaults both bounds to TLS 1.3.
func resolveTLSVersions(cfg config.ServerConfig) (min uint16, max uint16) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if v, ok := parseTLSVersion(cfg.TLSMinVersion); ok {
		min = v
	}
	if v, ok := parseTLSVersion(cfg.TLSMaxVersion); ok {
		max = v
	}
	if min > max {
		max = min
	}
	return
}

// safeReadFile refuses paths that escape baseDir.
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// certLoader re-reads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func certLoader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		keyPEM, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// SetupTLS builds the listener TLS config for the ingestion server. It returns
// nil when TLS is disabled. Explicit cert/key files win over Dir; with Dir and
// AutoGenerate a self-signed pair is created on first start.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}
	minVer, maxVer := resolveTLSVersions(server)

	if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
		if !certificatesExist(server.TLS.CertFile, server.TLS.KeyFile) {
			return nil, fmt.Errorf("tls: cert %s or key %s not found", server.TLS.CertFile, server.TLS.KeyFile)
		}
		return newConfig(server.TLS.CertFile, server.TLS.KeyFile, minVer, maxVer), nil
	}

	if server.TLS.Dir != "" {
		keyPath := filepath.Join(server.TLS.Dir, tlsKey)
		certPath := filepath.Join(server.TLS.Dir, tlsCrt)
		if !certificatesExist(certPath, keyPath) {
			if !server.TLS.AutoGenerate {
				return nil, fmt.Errorf("tls: no %s/%s in %s and auto_generate is off", tlsCrt, tlsKey, server.TLS.Dir)
			}
			if err := generateCertificate(server.TLS, server.TLS.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newConfig(certPath, keyPath, minVer, maxVer), nil
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func newConfig(certPath, keyPath string, minVer, maxVer uint16) *tls.Config {
	// #nosec G402 TLS 1.2 may be allowed explicitly for older agents
	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func orDefault[T string | []string](value, def T) T {
	if len(value) == 0 {
		return def
	}
	return value
}

func generateCertificate(tlsConfig *config.TLSConfig, destDir string) error {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	autoGen := tlsConfig.AutoGen
	if autoGen == nil {
		autoGen = &config.AutoGenTLS{}
	}
	validDays := autoGen.ValidDays
	if validDays <= 0 {
		validDays = 365 * 5
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   orDefault(autoGen.CommonName, "localhost"),
		Organization: orDefault(autoGen.Organization, "clogs"),
		DNSNames:     orDefault(autoGen.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(autoGen.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(destDir, tlsCrt),
		KeyPath:      filepath.Join(destDir, tlsKey),
		CACertPath:   filepath.Join(destDir, tlsCaCrt),
	})
}
