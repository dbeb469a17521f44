package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Encoding is an export file format.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// ParseEncoding accepts "json", "yaml" or "yml".
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "json":
		return EncodingJSON, nil
	case "yaml", "yml":
		return EncodingYAML, nil
	}
	return "", fmt.Errorf("unknown encoding %q (want json or yaml)", s)
}

// EncodingFor infers the encoding from a file extension, defaulting to JSON.
func EncodingFor(path string) Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return EncodingYAML
	}
	return EncodingJSON
}

// Write encodes records as a single JSON array or YAML sequence.
func Write(w io.Writer, records []Record, enc Encoding) error {
	if records == nil {
		records = []Record{}
	}
	switch enc {
	case EncodingJSON:
		e := json.NewEncoder(w)
		e.SetEscapeHTML(false)
		e.SetIndent("", "  ")
		return e.Encode(records)
	case EncodingYAML:
		e := yaml.NewEncoder(w)
		e.SetIndent(2)
		if err := e.Encode(records); err != nil {
			return err
		}
		return e.Close()
	}
	return fmt.Errorf("unknown encoding %q", enc)
}

// Read decodes records written by Write.
func Read(r io.Reader, enc Encoding) ([]Record, error) {
	var records []Record
	switch enc {
	case EncodingJSON:
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode json export: %w", err)
		}
	case EncodingYAML:
		if err := yaml.NewDecoder(r).Decode(&records); err != nil {
			return nil, fmt.Errorf("decode yaml export: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
	return records, nil
}
