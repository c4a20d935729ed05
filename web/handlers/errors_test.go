package handlers

import (
	"errors"
	"net/http"
	"testing"

	apperrors "persona-recall/errors"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid_input", apperrors.WrapError(apperrors.ErrInvalidInput, "bad profile id"), http.StatusBadRequest},
		{"not_found", apperrors.WrapError(apperrors.ErrNotFound, "no such fact"), http.StatusNotFound},
		{"version_conflict", apperrors.WrapError(apperrors.ErrVersionConflict, "fact changed"), http.StatusConflict},
		{"duplicate", apperrors.WrapError(apperrors.ErrDuplicate, "fact already stored"), http.StatusConflict},
		{"provider", apperrors.WrapError(apperrors.ErrProvider, "embedding service down"), http.StatusBadGateway},
		{"store", apperrors.WrapError(apperrors.ErrStore, "connection refused"), http.StatusServiceUnavailable},
		{"unclassified", errors.New("something else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
