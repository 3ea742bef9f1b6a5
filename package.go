package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Engine turns a staged document and its metadata sidecar into a finished
// book at outputPath.
type Engine interface {
	Name() string
	// Ext is the output file extension, without the dot.
	Ext() string
	Render(ctx context.Context, staged StagedFiles, outputPath string) error
}

var engineNames = []string{"pandoc", "native", "markdown"}

// engineByName builds the configured engine. The pandoc engine needs the
// binary on PATH, which is checked here so a batch fails before fetching.
func engineByName(cfg Config, log *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case "pandoc":
		e := newPandocEngine(cfg.PandocPath, cfg.PackageTimeout)
		if _, err := e.exec.LookPath(e.bin); err != nil {
			return nil, fmt.Errorf("pandoc engine: %w", err)
		}
		return e, nil
	case "native":
		return newNativeEngine(log), nil
	case "markdown":
		return newMarkdownEngine(), nil
	}
	return nil, fmt.Errorf("unknown engine %q (want one of %v)", cfg.Engine, engineNames)
}

func outputPathFor(outputDir, baseName string, e Engine) string {
	return filepath.Join(outputDir, baseName+"."+e.Ext())
}

// packageStaged runs the engine and waits for it. Staged files are removed
// only after a successful render so a failed run can be inspected.
func packageStaged(ctx context.Context, e Engine, staged StagedFiles, outputPath string, log *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return &PackagingError{Engine: e.Name(), Output: outputPath, Cause: err}
	}

	if err := e.Render(ctx, staged, outputPath); err != nil {
		var perr *PackagingError
		if errors.As(err, &perr) {
			return err
		}
		return &PackagingError{Engine: e.Name(), Output: outputPath, Cause: err}
	}

	for _, p := range []string{staged.Document, staged.Metadata} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("could not remove staged file", "path", p, "err", err)
		}
	}
	return nil
}
