// Package rubric loads rubric files and validates them against an embedded
// CUE schema before they reach the store.
//
// Supported formats are CUE (.cue), YAML (.yaml, .yml) and JSON (.json).
// Every format is unified with the #Rubric definition in schema.cue, so the
// same constraints apply regardless of how the instructor wrote the file.
package rubric

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/rubrica-app/rubrica/internal/exam"
)

//go:embed schema.cue
var schemaCUE string

// TotalTolerance is how far a declared total may sit from the sum of the
// per-question maxima, inclusive. Larger gaps are authoring mistakes,
// smaller ones are rounding (18 × 3.33 = 59.94 for a 60-point exam).
const TotalTolerance = 0.5

// Error codes for rubric loading.
const (
	ErrCodeRead     = "E_RUBRIC_READ"
	ErrCodeFormat   = "E_RUBRIC_FORMAT"
	ErrCodeSchema   = "E_RUBRIC_SCHEMA"
	ErrCodeSemantic = "E_RUBRIC_SEMANTIC"
)

// LoadError describes why a rubric file was rejected.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads and validates a rubric file.
func Load(path string) (exam.Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return exam.Rubric{}, &LoadError{Code: ErrCodeRead, Path: path, Message: err.Error()}
	}
	r, err := Parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.Path = path
		}
		return exam.Rubric{}, err
	}
	return r, nil
}

// Parse validates rubric content. ext selects the format (".cue", ".yaml",
// ".yml" or ".json").
func Parse(data []byte, ext string) (exam.Rubric, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return exam.Rubric{}, fmt.Errorf("compile rubric schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Rubric"))

	var v cue.Value
	switch ext {
	case ".cue", ".json":
		// JSON is a subset of CUE.
		v = ctx.CompileBytes(data, cue.Filename("rubric"+ext))
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return exam.Rubric{}, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("invalid YAML: %v", err)}
		}
		v = ctx.Encode(raw)
	default:
		return exam.Rubric{}, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported rubric format %q", ext)}
	}
	if err := v.Err(); err != nil {
		return exam.Rubric{}, &LoadError{Code: ErrCodeFormat, Message: err.Error()}
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return exam.Rubric{}, &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}

	var r exam.Rubric
	if err := unified.Decode(&r); err != nil {
		return exam.Rubric{}, &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}

	if err := Check(r); err != nil {
		return exam.Rubric{}, err
	}
	return r, nil
}

// Check enforces the constraints CUE cannot express on its own.
func Check(r exam.Rubric) error {
	seen := make(map[string]bool, len(r.Questions))
	for _, q := range r.Questions {
		key := strings.ToLower(q.ID)
		if seen[key] {
			return &LoadError{Code: ErrCodeSemantic, Message: fmt.Sprintf("duplicate question id %q", q.ID)}
		}
		seen[key] = true
	}
	if r.TotalPoints > 0 {
		if gap := math.Abs(r.TotalPoints - r.MaxTotal()); gap > TotalTolerance+1e-9 {
			return &LoadError{Code: ErrCodeSemantic, Message: fmt.Sprintf(
				"total_points %s differs from the sum of question maxima %s",
				exam.FormatPoints(r.TotalPoints), exam.FormatPoints(r.MaxTotal()))}
		}
	}
	return nil
}
