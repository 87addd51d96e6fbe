// Package config holds the bootstrap configuration consumed by the pass
// generation engine: where the bundle models live and where the signing
// identity material is found.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Config is the initialization input for the engine.
type Config struct {
	Models       Models       `yaml:"models"`
	Certificates Certificates `yaml:"certificates"`
}

// Models locates the directory holding the <name>.pass bundle models.
type Models struct {
	Dir string `yaml:"dir"`
}

// Certificates locates the signing identity material.
type Certificates struct {
	Dir         string           `yaml:"dir"`
	Files       CertificateFiles `yaml:"files"`
	Credentials Credentials      `yaml:"credentials"`
}

// CertificateFiles names the three identity files inside Certificates.Dir.
type CertificateFiles struct {
	// WWDR is the trust root (Apple WWDR intermediate) certificate.
	WWDR string `yaml:"wwdr"`
	// SignerCert is the pass type ID signing certificate.
	SignerCert string `yaml:"signerCert"`
	// SignerKey is the signer's private key, usually encrypted. A
	// .p12/.pfx file here supplies both the key and the signer cert.
	SignerKey string `yaml:"signerKey"`
}

// Credentials carries the secret material referenced by the files above.
type Credentials struct {
	PrivateKeySecret string `yaml:"privateKeySecret"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every field the engine depends on is present and
// that the configured directories exist. Errors are descriptive; a
// missing piece of identity configuration is fatal to startup, so the
// message has to name it.
func (c *Config) Validate() error {
	if c.Models.Dir == "" {
		return fmt.Errorf("models.dir is not configured")
	}
	if err := checkDir(c.Models.Dir); err != nil {
		return fmt.Errorf("models.dir: %w", err)
	}
	if c.Certificates.Dir == "" {
		return fmt.Errorf("certificates.dir is not configured")
	}
	if err := checkDir(c.Certificates.Dir); err != nil {
		return fmt.Errorf("certificates.dir: %w", err)
	}
	files := c.Certificates.Files
	if files.WWDR == "" || files.SignerCert == "" || files.SignerKey == "" {
		return fmt.Errorf("certificates.files must name wwdr, signerCert and signerKey")
	}
	if c.Certificates.Credentials.PrivateKeySecret == "" {
		return fmt.Errorf("certificates.credentials.privateKeySecret is not configured")
	}
	return nil
}

func checkDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
