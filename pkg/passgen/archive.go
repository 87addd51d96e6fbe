package passgen

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
)

// Assemble writes the merged descriptor, every selected model file, the
// manifest and the signature into one zip archive, exposed as the read
// end of a pipe so the caller can start consuming before trailing
// metadata is flushed. Model files are streamed from disk entry by
// entry, never buffered whole. Any entry failure propagates through the
// pipe; the reader observes the error instead of a truncated archive.
func Assemble(descriptor []byte, files []BundleFile, manifest, signature []byte) io.ReadCloser {
	pr, pw := io.Pipe()

	go func() {
		zw := zip.NewWriter(pw)
		err := func() error {
			if err := writeEntry(zw, DescriptorFile, descriptor); err != nil {
				return err
			}
			for _, f := range files {
				if err := streamEntry(zw, f); err != nil {
					return err
				}
			}
			if err := writeEntry(zw, ManifestFile, manifest); err != nil {
				return err
			}
			if err := writeEntry(zw, SignatureFile, signature); err != nil {
				return err
			}
			return zw.Close()
		}()
		if err != nil {
			pw.CloseWithError(fmt.Errorf("failed to assemble archive: %w", err))
			return
		}
		pw.Close()
	}()

	return pr
}

func writeEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("entry %s: %w", name, err)
	}
	return nil
}

func streamEntry(zw *zip.Writer, f BundleFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("entry %s: %w", f.Name, err)
	}
	defer src.Close()

	w, err := zw.Create(f.Name)
	if err != nil {
		return fmt.Errorf("entry %s: %w", f.Name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("entry %s: %w", f.Name, err)
	}
	return nil
}
