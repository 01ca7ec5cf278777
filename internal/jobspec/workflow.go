package jobspec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"batchctl/internal/apperrors"

	"gopkg.in/yaml.v3"
)

// Preprocessor turns a workflow definition file into the self-contained
// document shipped with the job.
type Preprocessor interface {
	Preprocess(ctx context.Context, path string) ([]byte, error)
}

// workflowDoc is the part of a workflow document checked after
// preprocessing.
type workflowDoc struct {
	Class string `yaml:"class"`
	Graph []any  `yaml:"$graph"`
}

// CommandPreprocessor runs `<Runner> --print-pre <path>` and keeps stdout.
type CommandPreprocessor struct {
	Runner string
}

// Preprocess runs the interpreter's preprocessing step.
func (p *CommandPreprocessor) Preprocess(ctx context.Context, path string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Runner, "--print-pre", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Preprocessing workflow", "runner", p.Runner, "path", path)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return nil, apperrors.Preprocessing(p.Runner, err)
	}
	if _, err := parseWorkflow(stdout.Bytes()); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// YAMLPreprocessor parses the definition in-process and re-encodes it. It
// resolves no imports; it is the fallback when the interpreter is missing.
type YAMLPreprocessor struct{}

// Preprocess validates and normalizes the definition at path.
func (YAMLPreprocessor) Preprocess(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Preprocessing("reading workflow definition", err)
	}
	if _, err := parseWorkflow(data); err != nil {
		return nil, err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, apperrors.Preprocessing("parsing workflow definition", err)
	}
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, apperrors.Preprocessing("encoding workflow definition", err)
	}
	return out, nil
}

// NewPreprocessor returns a CommandPreprocessor for runner when it is on
// PATH, and the YAML fallback otherwise.
func NewPreprocessor(runner string) Preprocessor {
	if runner != "" {
		if _, err := exec.LookPath(runner); err == nil {
			return &CommandPreprocessor{Runner: runner}
		}
		slog.Warn("Workflow runner not found, using built-in preprocessing", "runner", runner)
	}
	return YAMLPreprocessor{}
}

func parseWorkflow(data []byte) (*workflowDoc, error) {
	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.Preprocessing("parsing workflow definition", err)
	}
	if doc.Class == "" && len(doc.Graph) == 0 {
		return nil, apperrors.Preprocessing("parsing workflow definition", errors.New("document has neither class nor $graph"))
	}
	return &doc, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
