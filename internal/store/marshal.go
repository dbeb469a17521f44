package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// marshalJSON encodes v as compact JSON TEXT with HTML escaping disabled,
// so feedback containing "<" or "&" is stored as written.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func marshalRubric(r exam.Rubric) (string, error) {
	r.Seq = 0
	data, err := marshalJSON(r)
	if err != nil {
		return "", fmt.Errorf("marshal rubric: %w", err)
	}
	return data, nil
}

func unmarshalRubric(data string) (exam.Rubric, error) {
	var r exam.Rubric
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return exam.Rubric{}, fmt.Errorf("unmarshal rubric: %w", err)
	}
	return r, nil
}

func marshalPayload(p exam.Payload) (string, error) {
	data, err := marshalJSON(p)
	if err != nil {
		return "", fmt.Errorf("marshal grade: %w", err)
	}
	return data, nil
}

// unmarshalPayload decodes a nullable grade column. NULL yields nil.
func unmarshalPayload(data sql.NullString) (*exam.Payload, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var p exam.Payload
	if err := json.Unmarshal([]byte(data.String), &p); err != nil {
		return nil, fmt.Errorf("unmarshal grade: %w", err)
	}
	return &p, nil
}

func parseTime(data sql.NullString) (*time.Time, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, data.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", data.String, err)
	}
	return &t, nil
}
