package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/config"
)

func newTestAPI(t *testing.T) *api {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return newAPI(newController(config.Defaults(), log))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPI_Ports(t *testing.T) {
	a := newTestAPI(t)
	w := do(t, a, "GET", "/api/ports", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var ports []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ports))
}

func TestAPI_StateDisconnected(t *testing.T) {
	a := newTestAPI(t)
	w := do(t, a, "GET", "/api/state", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Disconnected")
}

func TestAPI_RequiresConnection(t *testing.T) {
	a := newTestAPI(t)

	w := do(t, a, "POST", "/api/send", `{"line":"G0 X0"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, a, "POST", "/api/home", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, a, "GET", "/api/program", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_BadRequests(t *testing.T) {
	a := newTestAPI(t)

	w := do(t, a, "POST", "/api/connect", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, a, "POST", "/api/send", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, a, "POST", "/api/jog", `{"axis":"XY","delta":1,"feed":600}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, a, "POST", "/api/program", "; comments only\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_LoadProgram(t *testing.T) {
	a := newTestAPI(t)

	w := do(t, a, "POST", "/api/program", "G21\n; comment\nG0 X0 Y0\n")
	require.Equal(t, http.StatusOK, w.Code)

	var info programInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, []string{"G21", "G0 X0 Y0"}, info.Lines)
}

func TestAPI_Generate(t *testing.T) {
	a := newTestAPI(t)

	w := do(t, a, "POST", "/api/generate", `{
		"grid": [[0, 255]],
		"widthMm": 2,
		"heightMm": 1,
		"resolutionPxPerMm": 1,
		"fixedPower": 1000
	}`)
	require.Equal(t, http.StatusOK, w.Code)

	var info programInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Contains(t, info.Lines, "M3 S1000")
	assert.Contains(t, info.Lines, "G1 X1 Y0")

	// ragged and empty grids are rejected
	w = do(t, a, "POST", "/api/generate", `{"grid": [], "widthMm": 2, "heightMm": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, a, "POST", "/api/generate", `{"grid": [[0,0],[0]], "widthMm": 2, "heightMm": 2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
