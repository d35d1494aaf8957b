package controller

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
)

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(appErrors.NewValidation("name", "is required")))
	assert.Equal(t, http.StatusNotFound, StatusFor(appErrors.NewCampaignNotFound("c1")))
	assert.Equal(t, http.StatusConflict, StatusFor(appErrors.NewConflict("busy")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/campaigns/x", nil)

	w := httptest.NewRecorder()
	WriteError(w, req, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteError(w, req, appErrors.NewConflict("campaign c1 is sending"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"campaign c1 is sending"}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestDecodeBody(t *testing.T) {
	var v struct {
		BatchSize int `json:"batch_size"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	require.NoError(t, decodeBody(req, &v, true))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err := decodeBody(req, &v, false)
	require.Error(t, err)
	assert.True(t, appErrors.IsValidation(err))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"batch_size":7}`))
	require.NoError(t, decodeBody(req, &v, false))
	assert.Equal(t, 7, v.BatchSize)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&page_size=abc", nil)
	assert.Equal(t, 3, QueryInt(req, "page", 1))
	assert.Equal(t, 20, QueryInt(req, "page_size", 20))
	assert.Equal(t, 5, QueryInt(req, "missing", 5))
}
