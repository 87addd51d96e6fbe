package passgen

import (
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/ksaine/passkit-generator/pkg/identity"
)

// Sign produces the detached PKCS#7 signature over the exact manifest
// bytes. The signed-data structure embeds the trust root and the signer
// certificate; the signer info carries the content-type, message-digest
// and signing-time authenticated attributes, digested with SHA-256. The
// content is detached before encoding. Everything in the output is
// deterministic for fixed inputs except the signing-time attribute.
func Sign(manifest []byte, material *identity.Material) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	sd.AddCertificate(material.RootCertificate)
	if err := sd.AddSigner(material.SignerCertificate, material.SignerKey, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("failed to add signer: %w", err)
	}
	sd.Detach()

	encoded, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signature: %w", err)
	}
	return stripTrailingEndOfContents(encoded), nil
}

// stripTrailingEndOfContents removes a single BER end-of-contents octet
// pair trailing the outermost signed-data element. Verifiers consume the
// structure in definite-length form with the content detached and reject
// the stray terminator some encoders append after a constructed
// indefinite-length serialization. Input whose outer element already
// spans the whole buffer comes back untouched. Revalidate this step
// whenever the signing library's default encoding changes.
func stripTrailingEndOfContents(encoded []byte) []byte {
	total, ok := outerElementLength(encoded)
	if !ok {
		return encoded
	}
	if total+2 == len(encoded) && encoded[total] == 0x00 && encoded[total+1] == 0x00 {
		return encoded[:total]
	}
	return encoded
}

// outerElementLength reports the full byte length (header included) of
// the first ASN.1 element in b, for definite-length encodings with a
// single-byte tag.
func outerElementLength(b []byte) (int, bool) {
	if len(b) < 2 {
		return 0, false
	}
	switch l := b[1]; {
	case l < 0x80:
		return 2 + int(l), true
	case l == 0x80:
		// Indefinite length, cannot size without walking the content.
		return 0, false
	default:
		n := int(l & 0x7f)
		if n > 4 || len(b) < 2+n {
			return 0, false
		}
		length := 0
		for i := 0; i < n; i++ {
			length = length<<8 | int(b[2+i])
		}
		return 2 + n + length, true
	}
}
