// Package identity loads and validates the signing identity material: a
// trust root certificate, a signer certificate, and the signer's private
// key. The material is loaded once at startup and is read-only afterwards.
package identity

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/youmark/pkcs8"
	"golang.org/x/sync/errgroup"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Files names the three identity files inside the certificates directory.
type Files struct {
	WWDR       string
	SignerCert string
	SignerKey  string
}

// Material is the loaded signing identity. All three fields are non-nil
// once Load succeeds, and the signer key matches the signer certificate.
type Material struct {
	RootCertificate   *x509.Certificate
	SignerCertificate *x509.Certificate
	SignerKey         crypto.Signer
}

// Load resolves and parses the identity material from dir. The directory
// check and the three file loads run concurrently; any single failure
// aborts the whole load. Every failure surfaces as one fatal error kind,
// since a caller cannot recover from a partially loaded identity.
func Load(ctx context.Context, dir string, files Files, secret string) (*Material, error) {
	if files.WWDR == "" || files.SignerCert == "" || files.SignerKey == "" {
		return nil, fmt.Errorf("not possible to load certificates: wwdr, signerCert and signerKey must all be configured")
	}

	var m Material
	var bundledCert *x509.Certificate
	keyIsBundle := isPKCS12(files.SignerKey)

	eg, _ := errgroup.WithContext(ctx)

	eg.Go(func() error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("certificate directory is not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	})
	eg.Go(func() error {
		cert, err := loadCertificate(filepath.Join(dir, files.WWDR))
		if err != nil {
			return fmt.Errorf("wwdr: %w", err)
		}
		m.RootCertificate = cert
		return nil
	})
	if !keyIsBundle || files.SignerCert != files.SignerKey {
		eg.Go(func() error {
			cert, err := loadCertificate(filepath.Join(dir, files.SignerCert))
			if err != nil {
				return fmt.Errorf("signerCert: %w", err)
			}
			m.SignerCertificate = cert
			return nil
		})
	}
	eg.Go(func() error {
		key, cert, err := loadPrivateKey(filepath.Join(dir, files.SignerKey), secret)
		if err != nil {
			return fmt.Errorf("signerKey: %w", err)
		}
		m.SignerKey = key
		bundledCert = cert
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("not possible to load certificates: %w", err)
	}
	if m.SignerCertificate == nil {
		m.SignerCertificate = bundledCert
	}
	if m.SignerCertificate == nil {
		return nil, fmt.Errorf("not possible to load certificates: signer certificate is missing")
	}
	if err := m.checkConsistency(); err != nil {
		return nil, fmt.Errorf("not possible to load certificates: %w", err)
	}
	return &m, nil
}

// checkConsistency verifies the signer key belongs to the signer
// certificate before any signing is attempted.
func (m *Material) checkConsistency() error {
	pub, ok := m.SignerCertificate.PublicKey.(interface {
		Equal(x crypto.PublicKey) bool
	})
	if !ok {
		return fmt.Errorf("signer certificate carries an unsupported public key type %T", m.SignerCertificate.PublicKey)
	}
	if !pub.Equal(m.SignerKey.Public()) {
		return fmt.Errorf("signer private key does not match the signer certificate")
	}
	return nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("disallowed file type in %s", filepath.Base(path))
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("disallowed file type %q in %s", block.Type, filepath.Base(path))
	}
	return x509.ParseCertificate(block.Bytes)
}

func isPKCS12(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

// loadPrivateKey parses the signer key file. PEM content is classified by
// its block marker; a PKCS#12 bundle (.p12/.pfx) yields the key and the
// signer certificate in one go.
func loadPrivateKey(path, secret string) (crypto.Signer, *x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if isPKCS12(path) {
		key, cert, err := pkcs12.Decode(data, secret)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, nil, fmt.Errorf("PKCS#12 bundle carries an unsupported key type %T", key)
		}
		return signer, cert, nil
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, fmt.Errorf("disallowed file type in %s", filepath.Base(path))
	}

	switch block.Type {
	case "ENCRYPTED PRIVATE KEY":
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(secret))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
		return asSigner(key)
	case "RSA PRIVATE KEY", "EC PRIVATE KEY", "PRIVATE KEY":
		der := block.Bytes
		if x509.IsEncryptedPEMBlock(block) {
			der, err = x509.DecryptPEMBlock(block, []byte(secret))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decrypt private key: %w", err)
			}
		}
		key, err := parseKeyDER(block.Type, der)
		if err != nil {
			return nil, nil, err
		}
		return asSigner(key)
	default:
		return nil, nil, fmt.Errorf("disallowed file type %q in %s", block.Type, filepath.Base(path))
	}
}

func parseKeyDER(blockType string, der []byte) (interface{}, error) {
	switch blockType {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	default:
		return x509.ParsePKCS8PrivateKey(der)
	}
}

func asSigner(key interface{}) (crypto.Signer, *x509.Certificate, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil, nil
	case *ecdsa.PrivateKey:
		return k, nil, nil
	case crypto.Signer:
		return k, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported private key type %T", key)
	}
}
