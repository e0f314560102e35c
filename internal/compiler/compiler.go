// Package compiler implements the external compiler interface from §6: the
// dispatcher hands it a name plus either source text or a source path, and
// gets back either a compiled artifact path or a diagnostic.
package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Diagnostic is what load/inline report back to the caller on a compile
// failure — exactly the text CLIS_PARAM carries on the wire.
type Diagnostic struct {
	Message string
}

func (d *Diagnostic) Error() string { return d.Message }

// Compiler turns a config's source into an artifact the worker can load.
// CheckOnly runs produce diagnostics-or-nothing and the caller discards any
// returned path without keeping the config around.
type Compiler interface {
	// Compile returns the artifact path for name, given either sourceText
	// (inline) or sourcePath (load) — exactly one is non-empty. A non-nil
	// *Diagnostic means compilation failed; err is reserved for
	// infrastructure failure (the compiler binary itself not runnable).
	Compile(ctx context.Context, name, sourceText, sourcePath string, checkOnly bool) (artifactPath string, diag *Diagnostic, err error)
}

// ShellCompiler runs its optional Command hook once per call and places
// its output under WorkDir/<name>/config.vcl, mirroring the
// one-directory-per-config layout registry.Remove expects to clean up.
type ShellCompiler struct {
	// Command, when set, is called as Command(ctx, name, inputPath,
	// outputPath); a nil return means success, and a non-nil error's text
	// becomes the returned Diagnostic.
	// A nil Command makes ShellCompiler a pass-through that copies the
	// input verbatim to the artifact path — useful for tests and for the
	// case where the manager trusts pre-validated source.
	Command func(ctx context.Context, name, inputPath, outputPath string) error
	WorkDir string
}

// Compile implements Compiler.
func (c *ShellCompiler) Compile(ctx context.Context, name, sourceText, sourcePath string, checkOnly bool) (string, *Diagnostic, error) {
	dir := filepath.Join(c.WorkDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("compiler: create work dir: %w", err)
	}

	input := sourcePath
	if sourceText != "" {
		inlinePath := filepath.Join(dir, "inline.vcl")
		if err := os.WriteFile(inlinePath, []byte(sourceText), 0o644); err != nil {
			return "", nil, fmt.Errorf("compiler: write inline source: %w", err)
		}
		input = inlinePath
	}

	output := filepath.Join(dir, "config.vcl")

	if c.Command == nil {
		data, err := os.ReadFile(input)
		if err != nil {
			_ = os.RemoveAll(dir)
			return "", &Diagnostic{Message: fmt.Sprintf("cannot read source: %v", err)}, nil
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return "", nil, fmt.Errorf("compiler: write artifact: %w", err)
		}
	} else if err := c.Command(ctx, name, input, output); err != nil {
		_ = os.RemoveAll(dir)
		return "", &Diagnostic{Message: err.Error()}, nil
	}

	if checkOnly {
		_ = os.RemoveAll(dir)
		return "", nil, nil
	}

	return output, nil, nil
}
