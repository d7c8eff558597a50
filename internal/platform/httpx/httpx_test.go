package httpx_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kitbridge/kitbridge/internal/platform/httpx"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{httpx.ErrNotFound, http.StatusNotFound, `{"error":"Not found"}`},
		{fmt.Errorf("%w: email", httpx.ErrDuplicate), http.StatusConflict, `{"error":"Already exists"}`},
		{fmt.Errorf("%w: name required", httpx.ErrValidation), http.StatusBadRequest, `{"error":"validation failed: name required"}`},
		{httpx.ErrForbidden, http.StatusForbidden, `{"error":"Forbidden"}`},
		{httpx.ErrUnauthorized, http.StatusUnauthorized, `{"error":"Unauthorized"}`},
		{errors.New("pool exhausted"), http.StatusInternalServerError, `{"error":"Internal server error"}`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		httpx.RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code)
		assert.JSONEq(t, tc.body, rr.Body.String())
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	}
}

func TestErrorWithDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	httpx.ErrorWithDetail(rr, http.StatusInternalServerError, "Internal server error", "dial tcp: refused")
	assert.JSONEq(t, `{"error":"Internal server error","detail":"dial tcp: refused"}`, rr.Body.String())
}
