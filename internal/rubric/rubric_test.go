package rubric

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	r, err := Load(filepath.Join("testdata", "econ.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ECON-A", r.Version)
	require.Len(t, r.Questions, 2)
	assert.Equal(t, "Q1", r.Questions[0].ID)
	assert.Equal(t, 10.0, r.Questions[0].MaxPoints)
	assert.Contains(t, r.Questions[1].Criteria, "fixed cost")
	assert.Equal(t, 20.0, r.TotalPoints)
}

func TestLoad_CUE(t *testing.T) {
	r, err := Load(filepath.Join("testdata", "econ.cue"))
	require.NoError(t, err)

	assert.Equal(t, "ECON-A", r.Version)
	require.Len(t, r.Questions, 2)
	assert.Equal(t, 20.0, r.MaxTotal())
}

func TestParse_JSON(t *testing.T) {
	r, err := Parse([]byte(`{"version":"B","questions":[{"id":"1","max_points":3.33}]}`), ".json")
	require.NoError(t, err)
	assert.Equal(t, "B", r.Version)
	assert.Equal(t, "", r.Questions[0].Criteria, "criteria defaults to empty")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		ext  string
		code string
	}{
		{"no questions", `{"version":"A","questions":[]}`, ".json", ErrCodeSchema},
		{"zero max", `{"version":"A","questions":[{"id":"Q1","max_points":0}]}`, ".json", ErrCodeSchema},
		{"missing version", `{"questions":[{"id":"Q1","max_points":5}]}`, ".json", ErrCodeSchema},
		{"unknown field", `{"version":"A","student":"x","questions":[{"id":"Q1","max_points":5}]}`, ".json", ErrCodeSchema},
		{"duplicate id", `{"version":"A","questions":[{"id":"Q1","max_points":5},{"id":"q1","max_points":5}]}`, ".json", ErrCodeSemantic},
		{"total mismatch", `{"version":"A","total_points":12,"questions":[{"id":"Q1","max_points":5}]}`, ".json", ErrCodeSemantic},
		{"bad yaml", "version: [", ".yaml", ErrCodeFormat},
		{"unsupported ext", `{}`, ".toml", ErrCodeFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.ext)
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestParse_TotalWithinTolerance(t *testing.T) {
	data := `{"version":"A","total_points":10,"questions":[
		{"id":"Q1","max_points":3.33},{"id":"Q2","max_points":3.33},{"id":"Q3","max_points":3.33}]}`
	r, err := Parse([]byte(data), ".json")
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.DeclaredTotal())
}

func TestParse_ToleranceIsInclusive(t *testing.T) {
	at := `{"version":"A","total_points":10,"questions":[{"id":"Q1","max_points":4.75},{"id":"Q2","max_points":4.75}]}`
	_, err := Parse([]byte(at), ".json")
	assert.NoError(t, err, "a gap of exactly 0.5 is accepted")

	past := `{"version":"A","total_points":10,"questions":[{"id":"Q1","max_points":4.75},{"id":"Q2","max_points":4.74}]}`
	_, err = Parse([]byte(past), ".json")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeSemantic, le.Code)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeRead, le.Code)
}
