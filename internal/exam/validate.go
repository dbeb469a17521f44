package exam

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// MaxPageBytes bounds a single page image.
const MaxPageBytes = 20 << 20

// anonIDPattern is the only accepted shape of an anonymous identifier.
var anonIDPattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// SupportedMediaTypes lists the page image formats the scorer can send.
var SupportedMediaTypes = []string{"image/png", "image/jpeg", "image/webp"}

// ValidationError rejects malformed input at the pipeline boundary.
// It never reaches the orchestrator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidAnonID reports whether id has the anonymous identifier shape.
func ValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// CheckAnonID returns a ValidationError for a malformed identifier.
func CheckAnonID(id string) error {
	if !ValidAnonID(id) {
		return &ValidationError{Field: "anon_id", Message: fmt.Sprintf("%q is not an 8-character anonymous identifier", id)}
	}
	return nil
}

// Input is the exam shape accepted from the upload layer. It deliberately has
// no room for a student name: DecodeInput rejects any field not listed here.
type Input struct {
	AnonID        string `json:"anon_id"`
	RubricVersion string `json:"rubric_version"`
	Pages         []Page `json:"pages"`
}

// DecodeInput decodes a JSON exam input, rejecting unknown fields.
func DecodeInput(data []byte) (Input, error) {
	var in Input
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return Input{}, &ValidationError{Message: fmt.Sprintf("decode exam input: %v", err)}
	}
	if err := in.Validate(); err != nil {
		return Input{}, err
	}
	return in, nil
}

// Validate checks the input against the boundary rules.
// An empty AnonID is allowed; the caller assigns one with NewAnonID.
func (in Input) Validate() error {
	if in.AnonID != "" {
		if err := CheckAnonID(in.AnonID); err != nil {
			return err
		}
	}
	if in.RubricVersion == "" {
		return &ValidationError{Field: "rubric_version", Message: "required"}
	}
	if len(in.Pages) == 0 {
		return &ValidationError{Field: "pages", Message: "at least one answer page is required"}
	}
	seen := make(map[int]bool, len(in.Pages))
	for i, p := range in.Pages {
		field := fmt.Sprintf("pages[%d]", i)
		if p.Number < 1 {
			return &ValidationError{Field: field, Message: "page 0 is the cover sheet and is never graded"}
		}
		if seen[p.Number] {
			return &ValidationError{Field: field, Message: fmt.Sprintf("duplicate page number %d", p.Number)}
		}
		seen[p.Number] = true
		if len(p.Data) == 0 {
			return &ValidationError{Field: field, Message: "empty image"}
		}
		if len(p.Data) > MaxPageBytes {
			return &ValidationError{Field: field, Message: fmt.Sprintf("image exceeds %d bytes", MaxPageBytes)}
		}
		if !supportedMediaType(p.MediaType) {
			return &ValidationError{Field: field, Message: fmt.Sprintf("unsupported media type %q", p.MediaType)}
		}
	}
	return nil
}

func supportedMediaType(mt string) bool {
	for _, s := range SupportedMediaTypes {
		if s == mt {
			return true
		}
	}
	return false
}
