package passgen

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/ksaine/passkit-generator/pkg/types"
)

// BundleFile is one on-disk model asset selected for the archive. The
// archive assembler streams it from Path; Name is its entry name.
type BundleFile struct {
	Name string
	Path string
}

// ListModelFiles enumerates the model directory and enforces the two
// model-shape rules: the directory must not be empty and it must contain
// the pass.json descriptor. Hidden files are dropped up front. Both
// violations are configuration errors about the model, reported with the
// malformed-request code.
func ListModelFiles(modelDir string) ([]BundleFile, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list model directory: %w", err)
	}

	hasDescriptor := false
	var files []BundleFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, hiddenFilePrefix) {
			continue
		}
		if name == DescriptorFile {
			hasDescriptor = true
			continue
		}
		files = append(files, BundleFile{
			Name: name,
			Path: filepath.Join(modelDir, name),
		})
	}

	if !hasDescriptor && len(files) == 0 {
		return nil, types.NewPassError("model folder is empty or uninitialized")
	}
	if !hasDescriptor {
		return nil, types.NewPassError("model does not contain the required %s descriptor", DescriptorFile)
	}

	// Artifacts of a previous generation never re-enter the bundle.
	selected := files[:0]
	for _, f := range files {
		if reservedName.MatchString(f.Name) {
			continue
		}
		selected = append(selected, f)
	}
	return selected, nil
}

// BuildManifest digests the merged descriptor plus every selected model
// file and returns the manifest. Per-file digesting is fanned out, one
// goroutine per file; the first failure wins and aborts the build, so a
// partial manifest is never returned.
func BuildManifest(ctx context.Context, descriptor []byte, files []BundleFile) (types.Manifest, error) {
	logger := slogcontext.FromCtx(ctx)

	manifest := types.Manifest{
		DescriptorFile: digestBytes(descriptor),
	}

	var mu sync.Mutex
	eg, _ := errgroup.WithContext(ctx)
	for _, f := range files {
		f := f
		eg.Go(func() error {
			digest, err := digestFile(f.Path)
			if err != nil {
				return fmt.Errorf("failed to digest %s: %w", f.Name, err)
			}
			mu.Lock()
			manifest[f.Name] = digest
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	logger.Log(ctx, slog.LevelDebug, "manifest built",
		slog.Int("entries", len(manifest)),
	)
	return manifest, nil
}

func digestBytes(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// digestFile streams a file through SHA-1 without buffering it whole.
func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
