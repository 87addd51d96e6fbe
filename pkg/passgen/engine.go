// Package passgen generates signed wallet pass bundles: it merges
// request overrides into a model's descriptor, digests every bundle
// file into a manifest, signs the manifest with the loaded identity
// material, and streams the result as a zip archive.
package passgen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/ksaine/passkit-generator/pkg/config"
	"github.com/ksaine/passkit-generator/pkg/identity"
	"github.com/ksaine/passkit-generator/pkg/types"
)

// Engine lifecycle states. Failed is terminal; recovering from a failed
// initialization requires a process restart.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
	stateFailed
)

// ErrNotReady is returned by Generate when the engine has not completed
// a successful initialization. Startup sequencing is the caller's
// responsibility; hitting this is a contract violation, not a request
// error, so it carries no ecode.
var ErrNotReady = errors.New("engine is not initialized")

// Engine is the pass generation facade. Create it with New, call
// Initialize exactly once, then Generate any number of times,
// concurrently if desired. After initialization the engine holds only
// read-only state.
type Engine struct {
	cfg      *config.Config
	state    atomic.Int32
	material *identity.Material
}

// New creates an uninitialized engine for the given configuration.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// Initialize loads the identity material and validates the models root.
// The two run concurrently and must both succeed before the engine is
// ready. A second call fails regardless of the first call's outcome.
func (e *Engine) Initialize(ctx context.Context) error {
	if !e.state.CompareAndSwap(stateUninitialized, stateInitializing) {
		return errors.New("engine initialization already attempted")
	}

	logger := slogcontext.FromCtx(ctx)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		info, err := os.Stat(e.cfg.Models.Dir)
		if err != nil {
			return fmt.Errorf("models directory is not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", e.cfg.Models.Dir)
		}
		return nil
	})
	eg.Go(func() error {
		material, err := identity.Load(egctx,
			e.cfg.Certificates.Dir,
			identity.Files{
				WWDR:       e.cfg.Certificates.Files.WWDR,
				SignerCert: e.cfg.Certificates.Files.SignerCert,
				SignerKey:  e.cfg.Certificates.Files.SignerKey,
			},
			e.cfg.Certificates.Credentials.PrivateKeySecret,
		)
		if err != nil {
			return err
		}
		e.material = material
		return nil
	})

	if err := eg.Wait(); err != nil {
		e.state.Store(stateFailed)
		return err
	}

	e.state.Store(stateReady)
	logger.Log(ctx, slog.LevelDebug, "pass generation engine ready",
		slog.String("models", e.cfg.Models.Dir),
	)
	return nil
}

// Generate builds one signed pass archive. The returned stream is the
// zip content; the caller owns closing it. Request-level failures carry
// the malformed-request ecode and are retrievable with errors.As; no
// partial archive is ever returned through the error path.
func (e *Engine) Generate(ctx context.Context, opts types.GenerateOptions) (io.ReadCloser, error) {
	if e.state.Load() != stateReady {
		return nil, ErrNotReady
	}
	if opts.ModelName == "" {
		return nil, types.NewPassError("model name must be a non-empty string")
	}
	if opts.ModelName != filepath.Base(opts.ModelName) || strings.ContainsAny(opts.ModelName, `/\`) {
		return nil, types.NewPassError("model name must not contain path elements")
	}

	logger := slogcontext.FromCtx(ctx).With(slog.String("model", opts.ModelName))

	modelDir := filepath.Join(e.cfg.Models.Dir, opts.ModelName+ModelDirSuffix)
	info, err := os.Stat(modelDir)
	if err != nil || !info.IsDir() {
		return nil, types.NewPassError("%s doesn't match any model in the models directory", opts.ModelName)
	}

	files, err := ListModelFiles(modelDir)
	if err != nil {
		return nil, ensureEcode(err)
	}

	base, err := os.ReadFile(filepath.Join(modelDir, DescriptorFile))
	if err != nil {
		return nil, ensureEcode(fmt.Errorf("failed to read %s: %w", DescriptorFile, err))
	}
	overrides := FilterOverrides(opts.Overrides)
	descriptor, err := MergeDescriptor(base, overrides)
	if err != nil {
		return nil, ensureEcode(err)
	}

	// The manifest is frozen, byte form included, before signing. No
	// file enters the archive that the signed manifest does not cover.
	manifest, err := BuildManifest(ctx, descriptor, files)
	if err != nil {
		return nil, ensureEcode(err)
	}
	manifestBytes, err := manifest.Bytes()
	if err != nil {
		return nil, ensureEcode(fmt.Errorf("failed to serialize manifest: %w", err))
	}

	signature, err := Sign(manifestBytes, e.material)
	if err != nil {
		return nil, ensureEcode(err)
	}

	logger.Log(ctx, slog.LevelDebug, "pass generated",
		slog.Int("files", len(files)),
		slog.Int("overrides", len(overrides)),
	)
	return Assemble(descriptor, files, manifestBytes, signature), nil
}

// ensureEcode attaches the malformed-request code to a Generate failure
// that does not already carry one. Every rejection leaving Generate
// renders the same {message, ecode} envelope; the cause chain stays
// intact for errors.Is and errors.As.
func ensureEcode(err error) error {
	var perr *types.PassError
	if errors.As(err, &perr) {
		return err
	}
	return &types.PassError{
		Message: err.Error(),
		ECode:   types.ECodeMalformed,
		Err:     err,
	}
}
