package http

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-relay/internal/common/errors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "src_1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"src_1"}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{"not found", errors.NotFoundError("event"), http.StatusNotFound, "not_found", "event not found"},
		{"validation", errors.ValidationError("name is required"), http.StatusBadRequest, "validation", "name is required"},
		{"plain error hides detail", stderrors.New("db password leaked"), http.StatusInternalServerError, "internal", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body.Error.Type)
			assert.Equal(t, tt.wantMsg, body.Error.Message)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type input struct {
		Name string `json:"name"`
	}

	var in input
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"github"}`))
	require.NoError(t, DecodeJSON(req, &in))
	assert.Equal(t, "github", in.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"github","extra":1}`))
	err := DecodeJSON(req, &in)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
	err = DecodeJSON(req, &in)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	err = DecodeJSON(req, &in)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}
