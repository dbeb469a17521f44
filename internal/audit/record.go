// Package audit exports graded exams and measures agreement between two
// independent gradings of the same exams.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rubrica-app/rubrica/internal/exam"
)

// DomainPayload separates payload digests from any other SHA-256 use.
// The suffix versions the digest input format.
const DomainPayload = "rubrica/payload/v1"

// Record is one exported grade.
type Record struct {
	AnonID        string       `json:"anon_id" yaml:"anon_id"`
	RubricVersion string       `json:"rubric_version" yaml:"rubric_version"`
	RubricSeq     int64        `json:"rubric_seq" yaml:"rubric_seq"`
	RunID         string       `json:"run_id" yaml:"run_id"`
	GradedAt      *time.Time   `json:"graded_at,omitempty" yaml:"graded_at,omitempty"`
	Grade         exam.Payload `json:"grade" yaml:"grade"`
	Digest        string       `json:"digest" yaml:"digest"`
}

// NewRecord builds the record of a graded exam.
func NewRecord(e exam.Exam) (Record, error) {
	if e.Grade == nil {
		return Record{}, fmt.Errorf("exam %s has no grade", e.AnonID)
	}
	digest, err := Digest(*e.Grade)
	if err != nil {
		return Record{}, fmt.Errorf("exam %s: %w", e.AnonID, err)
	}
	return Record{
		AnonID:        e.AnonID,
		RubricVersion: e.RubricVersion,
		RubricSeq:     e.RubricSeq,
		RunID:         e.RunID,
		GradedAt:      e.GradedAt,
		Grade:         *e.Grade,
		Digest:        digest,
	}, nil
}

// Records builds records for every graded exam and skips the rest.
func Records(exams []exam.Exam) ([]Record, error) {
	out := make([]Record, 0, len(exams))
	for _, e := range exams {
		if e.Grade == nil {
			continue
		}
		r, err := NewRecord(e)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Verify reports whether the digest still matches the grade.
func (r Record) Verify() (bool, error) {
	digest, err := Digest(r.Grade)
	if err != nil {
		return false, err
	}
	return digest == r.Digest, nil
}

// Digest returns the hex SHA-256 of the payload's JSON encoding, NFC
// normalized, under DomainPayload.
func Digest(p exam.Payload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	data := norm.NFC.Bytes(bytes.TrimRight(buf.Bytes(), "\n"))
	return hashWithDomain(DomainPayload, data), nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data). The null byte keeps
// the domain and data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
