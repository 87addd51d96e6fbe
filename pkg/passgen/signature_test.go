package passgen

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/ksaine/passkit-generator/pkg/identity"
)

func testMaterial(t *testing.T) *identity.Material {
	t.Helper()

	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test WWDR CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatal(err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatal(err)
	}

	signerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signerTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Pass Type ID: pass.example.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	signerDER, err := x509.CreateCertificate(rand.Reader, signerTmpl, rootCert, &signerKey.PublicKey, rootKey)
	if err != nil {
		t.Fatal(err)
	}
	signerCert, err := x509.ParseCertificate(signerDER)
	if err != nil {
		t.Fatal(err)
	}

	return &identity.Material{
		RootCertificate:   rootCert,
		SignerCertificate: signerCert,
		SignerKey:         signerKey,
	}
}

func TestSignVerifiesDetached(t *testing.T) {
	material := testMaterial(t)
	manifest := []byte(`{"icon.png":"aaaa","pass.json":"bbbb"}`)

	sig, err := Sign(manifest, material)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// The outer element must span the whole buffer: definite-length
	// encoding with nothing trailing.
	total, ok := outerElementLength(sig)
	if !ok {
		t.Fatal("signature does not start with a definite-length element")
	}
	if total != len(sig) {
		t.Fatalf("outer element spans %d of %d bytes", total, len(sig))
	}

	p7, err := pkcs7.Parse(sig)
	if err != nil {
		t.Fatalf("signature does not parse: %v", err)
	}
	if len(p7.Content) != 0 {
		t.Error("content is not detached")
	}
	if len(p7.Certificates) != 2 {
		t.Errorf("embedded %d certificates, want 2", len(p7.Certificates))
	}

	p7.Content = manifest
	if err := p7.Verify(); err != nil {
		t.Fatalf("detached verification failed: %v", err)
	}
}

func TestSignRejectsTamperedContent(t *testing.T) {
	material := testMaterial(t)
	manifest := []byte(`{"icon.png":"aaaa","pass.json":"bbbb"}`)

	sig, err := Sign(manifest, material)
	if err != nil {
		t.Fatal(err)
	}
	p7, err := pkcs7.Parse(sig)
	if err != nil {
		t.Fatal(err)
	}
	p7.Content = []byte(`{"icon.png":"aaaa","pass.json":"cccc"}`)
	if err := p7.Verify(); err == nil {
		t.Fatal("verification succeeded against tampered content")
	}
}

func TestStripTrailingEndOfContents(t *testing.T) {
	// SEQUENCE { INTEGER 5 } in definite-length form.
	clean := []byte{0x30, 0x03, 0x02, 0x01, 0x05}

	t.Run("strips one trailing terminator", func(t *testing.T) {
		in := append(append([]byte{}, clean...), 0x00, 0x00)
		out := stripTrailingEndOfContents(in)
		if !bytes.Equal(out, clean) {
			t.Errorf("out = %x, want %x", out, clean)
		}
	})

	t.Run("leaves clean encoding untouched", func(t *testing.T) {
		out := stripTrailingEndOfContents(clean)
		if !bytes.Equal(out, clean) {
			t.Errorf("out = %x, want %x", out, clean)
		}
	})

	t.Run("leaves trailing zeros inside the element untouched", func(t *testing.T) {
		// OCTET STRING ending in 00 00; the zeros are content, not a
		// terminator, because the outer length covers them.
		in := []byte{0x04, 0x04, 0xde, 0xad, 0x00, 0x00}
		out := stripTrailingEndOfContents(in)
		if !bytes.Equal(out, in) {
			t.Errorf("out = %x, want %x", out, in)
		}
	})

	t.Run("long-form length", func(t *testing.T) {
		content := bytes.Repeat([]byte{0xab}, 0x120)
		element := append([]byte{0x30, 0x82, 0x01, 0x20}, content...)
		in := append(append([]byte{}, element...), 0x00, 0x00)
		out := stripTrailingEndOfContents(in)
		if !bytes.Equal(out, element) {
			t.Errorf("stripped %d bytes, want %d", len(in)-len(out), 2)
		}
	})

	t.Run("short input", func(t *testing.T) {
		in := []byte{0x00}
		out := stripTrailingEndOfContents(in)
		if !bytes.Equal(out, in) {
			t.Errorf("out = %x, want %x", out, in)
		}
	})
}
