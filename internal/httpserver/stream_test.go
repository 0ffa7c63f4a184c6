package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEncoderArray(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewStreamEncoder(rec, 2)

	require.NoError(t, enc.OpenArray())
	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, enc.Element(v))
	}
	require.NoError(t, enc.CloseArray())

	assert.Equal(t, `["a","b","c"]`, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestStreamEncoderEmptyArray(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewStreamEncoder(rec, 0)
	require.NoError(t, enc.OpenArray())
	require.NoError(t, enc.CloseArray())
	assert.Equal(t, `[]`, rec.Body.String())
}

func TestStreamEncoderNestedObject(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewStreamEncoder(rec, 10)

	require.NoError(t, enc.OpenObject())
	require.NoError(t, enc.Field("id", "42"))
	require.NoError(t, enc.Field("title", "Vie en Dragostina"))
	require.NoError(t, enc.Key("posts"))
	require.NoError(t, enc.OpenArray())
	require.NoError(t, enc.Element(map[string]int{"n": 1}))
	require.NoError(t, enc.Element(map[string]int{"n": 2}))
	require.NoError(t, enc.CloseArray())
	require.NoError(t, enc.CloseObject())

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	want := map[string]any{
		"id":    "42",
		"title": "Vie en Dragostina",
		"posts": []any{map[string]any{"n": float64(1)}, map[string]any{"n": float64(2)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decoded document mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamEncoderRejectsUnbalancedClose(t *testing.T) {
	enc := NewStreamEncoder(httptest.NewRecorder(), 0)
	assert.Error(t, enc.CloseArray())
}

func TestStreamEncoderMarshalError(t *testing.T) {
	enc := NewStreamEncoder(httptest.NewRecorder(), 0)
	require.NoError(t, enc.OpenArray())
	assert.Error(t, enc.Element(func() {}))
	assert.Error(t, enc.Err())
}
