package types

import "encoding/json"

// Manifest maps the relative name of every file placed in the pass
// archive to the lowercase hex SHA-1 digest of its content. The merged
// pass.json descriptor is always present; the manifest and signature
// themselves never are.
type Manifest map[string]string

// Bytes returns the canonical serialized form of the manifest. Keys are
// emitted in sorted order, so the same mapping always yields the same
// bytes. These exact bytes are what gets signed and archived.
func (m Manifest) Bytes() ([]byte, error) {
	return json.Marshal(m)
}
