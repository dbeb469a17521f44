package exam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() Input {
	return Input{
		AnonID:        "AB12CD34",
		RubricVersion: "A",
		Pages: []Page{
			{Number: 1, MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
			{Number: 2, MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		},
	}
}

func TestInputValidate_Accepts(t *testing.T) {
	require.NoError(t, validInput().Validate())

	in := validInput()
	in.AnonID = ""
	assert.NoError(t, in.Validate(), "anon id is assigned later when empty")
}

func TestInputValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
	}{
		{"lowercase anon id", func(in *Input) { in.AnonID = "ab12cd34" }, "anon_id"},
		{"short anon id", func(in *Input) { in.AnonID = "AB12" }, "anon_id"},
		{"missing version", func(in *Input) { in.RubricVersion = "" }, "rubric_version"},
		{"no pages", func(in *Input) { in.Pages = nil }, "pages"},
		{"cover page", func(in *Input) { in.Pages[0].Number = 0 }, "pages[0]"},
		{"duplicate page", func(in *Input) { in.Pages[1].Number = 1 }, "pages[1]"},
		{"empty image", func(in *Input) { in.Pages[1].Data = nil }, "pages[1]"},
		{"pdf page", func(in *Input) { in.Pages[0].MediaType = "application/pdf" }, "pages[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := in.Validate()
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestDecodeInput_RejectsIdentifyingFields(t *testing.T) {
	data := []byte(`{"anon_id":"AB12CD34","rubric_version":"A","student_name":"Jane Doe",
		"pages":[{"number":1,"media_type":"image/png","data":"iVBORw=="}]}`)

	_, err := DecodeInput(data)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "student_name")
}

func TestDecodeInput_Valid(t *testing.T) {
	data := []byte(`{"anon_id":"AB12CD34","rubric_version":"A",
		"pages":[{"number":1,"media_type":"image/png","data":"iVBORw=="}]}`)

	in, err := DecodeInput(data)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", in.AnonID)
	require.Len(t, in.Pages, 1)
	assert.NotEmpty(t, in.Pages[0].Data)
}

func TestNewAnonID_Shape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := NewAnonID(func(string) (bool, error) { return false, nil })
		require.NoError(t, err)
		assert.True(t, ValidAnonID(id), "bad id %q", id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 45, "identifiers should not repeat")
}

func TestNewAnonID_SkipsExisting(t *testing.T) {
	calls := 0
	id, err := NewAnonID(func(string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	require.NoError(t, err)
	assert.True(t, ValidAnonID(id))
	assert.Equal(t, 3, calls)
}

func TestNewAnonID_AllTaken(t *testing.T) {
	_, err := NewAnonID(func(string) (bool, error) { return true, nil })
	assert.Error(t, err)
}

func TestNewAnonID_ExistsError(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewAnonID(func(string) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)
}

func TestRubricTotals(t *testing.T) {
	r := Rubric{Version: "A", Questions: []Question{
		{ID: "Q1", MaxPoints: 3.33},
		{ID: "Q2", MaxPoints: 3.33},
		{ID: "Q3", MaxPoints: 3.33},
	}}
	assert.InDelta(t, 9.99, r.MaxTotal(), 1e-9)
	assert.InDelta(t, 9.99, r.DeclaredTotal(), 1e-9)

	r.TotalPoints = 10
	assert.Equal(t, 10.0, r.DeclaredTotal())

	q, ok := r.Question("Q2")
	require.True(t, ok)
	assert.Equal(t, 3.33, q.MaxPoints)
	_, ok = r.Question("Q9")
	assert.False(t, ok)
}

func TestLetterRank(t *testing.T) {
	assert.Greater(t, LetterA.Rank(), LetterB.Rank())
	assert.Greater(t, LetterD.Rank(), LetterF.Rank())
	assert.Equal(t, 0, Letter("?").Rank())
}

func TestFormatPoints(t *testing.T) {
	assert.Equal(t, "10", FormatPoints(10))
	assert.Equal(t, "3.33", FormatPoints(3.333))
	assert.Equal(t, "2.5", FormatPoints(2.5))
}
