package main

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"time"
)

// executor abstracts process execution so tests can stand in for pandoc.
type executor interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stderr io.Writer) error
}

type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = stderr
	return cmd.Run()
}

// pandocEngine shells out to pandoc, which reads the Dublin Core sidecar
// through --epub-metadata.
type pandocEngine struct {
	bin     string
	timeout time.Duration
	exec    executor
}

func newPandocEngine(bin string, timeout time.Duration) *pandocEngine {
	return &pandocEngine{bin: bin, timeout: timeout, exec: osExecutor{}}
}

func (p *pandocEngine) Name() string { return "pandoc" }
func (p *pandocEngine) Ext() string  { return "epub" }

func (p *pandocEngine) args(staged StagedFiles, outputPath string) []string {
	return []string{
		staged.Document,
		"-o", outputPath,
		"-t", "epub3",
		"--katex",
		"--epub-metadata=" + staged.Metadata,
	}
}

func (p *pandocEngine) Render(ctx context.Context, staged StagedFiles, outputPath string) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	if err := p.exec.Run(ctx, p.bin, p.args(staged, outputPath), &stderr); err != nil {
		return &PackagingError{
			Engine:      p.Name(),
			Output:      outputPath,
			Diagnostics: strings.TrimSpace(stderr.String()),
			Cause:       err,
		}
	}
	return nil
}
