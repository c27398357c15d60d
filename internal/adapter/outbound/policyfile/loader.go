// Package policyfile loads policy documents from YAML (or JSON) files and
// keeps a watched copy current as the file changes.
package policyfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

// Loader reads the policy file on every Load, so each evaluation sees the
// file as it is at that moment.
type Loader struct {
	path   string
	logger *slog.Logger
}

// NewLoader creates a loader for path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Path returns the policy file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads and parses the policy file. A missing file yields the default
// legacy policy rather than an error.
func (l *Loader) Load(ctx context.Context) (policy.Document, error) {
	if err := ctx.Err(); err != nil {
		return policy.Document{}, err
	}

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Debug("policy file not found, using defaults", "path", l.path)
		doc := policy.NewLegacyDocument(policy.DefaultLegacy())
		doc.Path = l.path
		return doc, nil
	}
	if err != nil {
		return policy.Document{}, fmt.Errorf("read policy %s: %w", l.path, err)
	}

	doc, err := Parse(data)
	if err != nil {
		return policy.Document{}, fmt.Errorf("policy %s: %w", l.path, err)
	}
	doc.Path = l.path
	return doc, nil
}

// Parse decodes a policy document and fingerprints its bytes.
func Parse(data []byte) (policy.Document, error) {
	raw, err := DecodeRaw(data)
	if err != nil {
		return policy.Document{}, err
	}
	doc := policy.ParseDocument(raw)
	doc.Hash = Fingerprint(data)
	return doc, nil
}

// DecodeRaw decodes YAML or JSON into a generic map. An empty document
// decodes to an empty map; a document whose top level is not a mapping is
// an error.
func DecodeRaw(data []byte) (map[string]any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode policy: top level must be a mapping, got %T", v)
	}
	return raw, nil
}

// ReadRaw decodes the document at path, or from stdin when path is "-".
func ReadRaw(path string, stdin io.Reader) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" || path == "/dev/stdin" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return DecodeRaw(data)
}

// Fingerprint returns a short stable hash of a policy file's bytes, recorded
// in audit records so a decision can be tied to the policy that made it.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// EncodeYAML renders v as YAML with two-space indentation.
func EncodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// Compile-time interface verification.
var _ policy.Source = (*Loader)(nil)
