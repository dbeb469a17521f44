package testutil

import (
	"github.com/rubrica-app/rubrica/internal/exam"
)

// PNG is a minimal PNG header, enough to stand in for a scanned page.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d}

// EconRubric returns a two-question rubric worth 10 points each.
func EconRubric() exam.Rubric {
	return exam.Rubric{
		Version: "ECON-A",
		Questions: []exam.Question{
			{ID: "Q1", MaxPoints: 10, Criteria: "Derive the market equilibrium price and quantity."},
			{ID: "Q2", MaxPoints: 10, Criteria: "Apply MR = MC for the monopolist, including fixed cost in part b."},
		},
		TotalPoints: 20,
	}
}

// Pages returns n answer pages numbered from 1.
func Pages(n int) []exam.Page {
	pages := make([]exam.Page, n)
	for i := range pages {
		pages[i] = exam.Page{Number: i + 1, MediaType: "image/png", Data: PNG}
	}
	return pages
}

// Input returns a valid exam input for anonID against rubric version.
func Input(anonID, version string) exam.Input {
	return exam.Input{AnonID: anonID, RubricVersion: version, Pages: Pages(2)}
}
