package passgen

import "regexp"

const (
	// DescriptorFile is the primary descriptor inside every model and
	// every generated archive.
	DescriptorFile = "pass.json"
	// ManifestFile holds the name → SHA-1 digest mapping.
	ManifestFile = "manifest.json"
	// SignatureFile holds the raw binary detached signature.
	SignatureFile = "signature"

	// ModelDirSuffix is appended to a model name to resolve its
	// directory under the models root.
	ModelDirSuffix = ".pass"

	hiddenFilePrefix = "."
)

// reservedName matches generation artifacts that may linger in a model
// directory from a previous build. Anything matching is excluded from
// the manifest and the archive so regeneration never double-includes
// them; pass.json itself is handled separately by name.
var reservedName = regexp.MustCompile(`(?i)manifest|signature|pass`)
