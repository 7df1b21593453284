package crmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractResults_SingleResponse(t *testing.T) {
	t.Parallel()

	env := Envelope{"result": []any{"a", "b"}, "total": float64(2)}

	got, err := ExtractResults(env, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)
}

func TestExtractResults_SingleKeyWrappedList(t *testing.T) {
	t.Parallel()

	env := Envelope{"result": map[string]any{"tasks": []any{"a", "b", "c"}}}

	got, err := ExtractResults(env, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, got)
}

func TestExtractResults_TopLevelError(t *testing.T) {
	t.Parallel()

	env := Envelope{"result_error": "access denied"}

	_, err := ExtractResults(env, false)
	require.Error(t, err)
	var contentErr *ServerContentError
	assert.ErrorAs(t, err, &contentErr)
	assert.Contains(t, contentErr.Message, "access denied")
}

func TestExtractResults_ErrorDescription(t *testing.T) {
	t.Parallel()

	env := Envelope{"error_description": "invalid webhook"}

	_, err := ExtractResults(env, false)
	require.Error(t, err)
}

func TestExtractResults_BatchOfLists(t *testing.T) {
	t.Parallel()

	env := Envelope{
		"result": map[string]any{
			"result": map[string]any{
				"cmd0000000000": []any{"a"},
				"cmd0000000001": []any{"b", "c"},
			},
		},
	}

	got, err := ExtractResults(env, false)
	require.NoError(t, err)
	list, ok := got.([]any)
	require.True(t, ok)
	assert.Len(t, list, 3)
}

func TestExtractResults_BatchByID(t *testing.T) {
	t.Parallel()

	env := Envelope{
		"result": map[string]any{
			"result": map[string]any{
				"7": map[string]any{"ID": "7", "TITLE": "Lead A"},
				"8": map[string]any{"ID": "8", "TITLE": "Lead B"},
			},
		},
	}

	got, err := ExtractResults(env, true)
	require.NoError(t, err)
	byID, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Len(t, byID, 2)
	assert.Contains(t, byID, "7")
	assert.Contains(t, byID, "8")
}

func TestExtractResults_BatchError(t *testing.T) {
	t.Parallel()

	env := Envelope{
		"result": map[string]any{
			"result":       map[string]any{},
			"result_error": map[string]any{"cmd0000000000": "method not found"},
		},
	}

	_, err := ExtractResults(env, false)
	require.Error(t, err)
	var contentErr *ServerContentError
	assert.ErrorAs(t, err, &contentErr)
	assert.Contains(t, contentErr.Message, "method not found")
}

func TestExtractResults_BatchOfMapsWithoutListsReturnsMap(t *testing.T) {
	t.Parallel()

	env := Envelope{
		"result": map[string]any{
			"result": map[string]any{
				"cmd0000000000": map[string]any{"ID": "1"},
				"cmd0000000001": map[string]any{"ID": "2"},
			},
		},
	}

	got, err := ExtractResults(env, false)
	require.NoError(t, err)
	asMap, ok := got.(map[string]any)
	require.True(t, ok, "batch of single-item maps should pass through unflattened")
	assert.Len(t, asMap, 2)
}

func TestMoreResultsExpected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		env    Envelope
		gotLen int
		want   bool
	}{
		{
			name:   "given total exceeds page size and doesn't match got, then more expected",
			env:    Envelope{"total": float64(120)},
			gotLen: 50,
			want:   true,
		},
		{
			name:   "given total equals got, then no more expected",
			env:    Envelope{"total": float64(50)},
			gotLen: 50,
			want:   false,
		},
		{
			name:   "given total within one page, then no more expected",
			env:    Envelope{"total": float64(30)},
			gotLen: 30,
			want:   false,
		},
		{
			name:   "given no total field, then no more expected",
			env:    Envelope{},
			gotLen: 50,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, MoreResultsExpected(tt.env, tt.gotLen))
		})
	}
}
