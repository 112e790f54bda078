package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogError_CodesAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *CatalogError
		code   ErrorCode
		status int
	}{
		{"duplicate", DuplicateIdentifier(1), ErrCodeDuplicateIdentifier, http.StatusConflict},
		{"not found", NotFound(2), ErrCodeNotFound, http.StatusNotFound},
		{"invalid", InvalidRecord("price", "must not be negative"), ErrCodeInvalidRecord, http.StatusBadRequest},
		{"bad request", InvalidRequest("malformed body", nil), ErrCodeInvalidRequest, http.StatusBadRequest},
		{"unreachable", NodeUnreachable("central", stderrors.New("dial tcp: refused")), ErrCodeNodeUnreachable, http.StatusServiceUnavailable},
		{"log write", LogWriteFailure("append failed", nil), ErrCodeLogWriteFailure, http.StatusInternalServerError},
		{"log corrupt", LogCorrupt(3, nil), ErrCodeLogCorrupt, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestGetCode_Wrapped(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := fmt.Errorf("insert on late: %w", NodeUnreachable("late", cause))

	assert.Equal(t, ErrCodeNodeUnreachable, GetCode(err))
	assert.True(t, Is(err, ErrCodeNodeUnreachable))
	assert.False(t, Is(err, ErrCodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))

	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(stderrors.New("plain")))
}

func TestCatalogError_Message(t *testing.T) {
	err := NodeUnreachable("early", stderrors.New("timeout"))
	assert.Equal(t, "node early unreachable: timeout", err.Error())
	assert.Equal(t, "early", err.Details["node"])
	assert.Equal(t, "no record found with info_id 9", NotFound(9).Error())
}
