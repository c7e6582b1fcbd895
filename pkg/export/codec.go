package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	gterrors "github.com/matzehuels/genretree/pkg/errors"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DefaultFormat is used when neither a format nor a known extension is given.
const DefaultFormat = FormatJSON

// ValidFormats is the set of supported output formats.
var ValidFormats = map[string]bool{
	FormatJSON: true,
	FormatYAML: true,
}

// ValidateFormat checks that a format is supported.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return gterrors.New(gterrors.ErrCodeInvalidFormat, "invalid format: %q (must be one of: json, yaml)", format)
	}
	return nil
}

// FormatFromPath infers a format from a file extension. Unknown extensions
// yield DefaultFormat.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return DefaultFormat
	}
}

// Encode writes rec to w in the given format. JSON output is indented by
// two spaces; map keys are sorted in both formats.
func Encode(w io.Writer, rec *Record, format string) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// Decode reads a record in the given format from r. Decode does not close r.
func Decode(r io.Reader, format string) (*Record, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	var rec Record
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&rec); err != nil {
			return nil, gterrors.Wrap(gterrors.ErrCodeInvalidFormat, err, "decode yaml")
		}
	default:
		if err := json.NewDecoder(r).Decode(&rec); err != nil {
			return nil, gterrors.Wrap(gterrors.ErrCodeInvalidFormat, err, "decode json")
		}
	}
	rec.normalize()
	return &rec, nil
}

// Marshal encodes rec into a byte slice.
func Marshal(rec *Record, format string) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, rec, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a record from data.
func Unmarshal(data []byte, format string) (*Record, error) {
	return Decode(bytes.NewReader(data), format)
}

// WriteFile writes rec to path. An empty format is inferred from the
// extension.
func WriteFile(rec *Record, path, format string) error {
	if format == "" {
		format = FormatFromPath(path)
	}
	if err := ValidateFormat(format); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Encode(f, rec, format); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads a record from path. An empty format is inferred from the
// extension.
func ReadFile(path, format string) (*Record, error) {
	if format == "" {
		format = FormatFromPath(path)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gterrors.Wrap(gterrors.ErrCodeFileNotFound, err, "open %s", path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f, format)
}
