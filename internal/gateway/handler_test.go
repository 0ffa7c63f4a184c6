package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lnm/internal/battle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	strong = "0000000/0000000/0000000/0000000/0000000/0000000/0001000/0000000"
	weak   = "0000001/0000000/0000000/0000000/0000000/0000000/0000000/0000000"
)

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/battles/solve", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSolve(t *testing.T) {
	h := NewHandler(1<<16, WithSeed(func() int64 { return 3 })).Router()

	rec := post(h, `{"notation":"`+strong+` `+weak+` 0 0"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res SolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.AttackerWon)
	assert.Equal(t, 1, res.Phases)
	assert.Equal(t, int64(3), res.Seed)

	log, err := battle.ParseLog(res.Log)
	require.NoError(t, err)
	last, _ := log.Last()
	assert.True(t, last.Finished)
	assert.True(t, last.Defender.Empty())
}

func TestSolveSeedIsReproducible(t *testing.T) {
	h := NewHandler(1 << 16).Router()
	troop := "0000500/0000300/0000200/0000100/0000050/0000040/0000030/0000010"
	body := `{"notation":"` + troop + ` ` + troop + ` 0 0","seed":11}`

	first := post(h, body)
	second := post(h, body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestSolveRejects(t *testing.T) {
	h := NewHandler(64).Router()

	for name, tc := range map[string]struct {
		body   string
		status int
		msg    string
	}{
		"missing notation": {`{}`, http.StatusBadRequest, "notation is required"},
		"invalid json":     {`{"notation":`, http.StatusBadRequest, "invalid JSON"},
		"bad notation":     {`{"notation":"1/2/3 0 0 0"}`, http.StatusBadRequest, "invalid notation"},
		"too large":        {`{"notation":"` + strings.Repeat("0", 128) + `"}`, http.StatusRequestEntityTooLarge, "payload exceeds limit"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(h, tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, errorOf(t, rec), tc.msg)
		})
	}
}

func TestSolveRejectsFinishedBattle(t *testing.T) {
	h := NewHandler(1 << 16).Router()
	rec := post(h, `{"notation":"`+strong+` `+weak+` 1 0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, battle.ErrAlreadyFinished.Error(), errorOf(t, rec))
}

func TestSolveMethodNotAllowed(t *testing.T) {
	h := NewHandler(1 << 16).Router()
	req := httptest.NewRequest(http.MethodGet, "/battles/solve", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
