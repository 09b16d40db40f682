package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sakif/ghostwriter/internal/apperror"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{"validation", apperror.ValidationFailed("email", "Invalid email format"), http.StatusBadRequest, "validation_error", "Invalid email format"},
		{"unauthorized", apperror.Unauthorized("Invalid email or password"), http.StatusUnauthorized, "unauthorized", "Invalid email or password"},
		{"forbidden", apperror.Forbidden("nope"), http.StatusForbidden, "forbidden", "nope"},
		{"not found", apperror.NotFound("audit", "a/b/1"), http.StatusNotFound, "not_found", "audit not found with id a/b/1"},
		{"conflict", apperror.Conflict("taken"), http.StatusConflict, "conflict", "taken"},
		{"timeout", apperror.Timeout("slow"), http.StatusGatewayTimeout, "timeout", "slow"},
		{"upstream", apperror.Upstream("GitHub failed", errors.New("secret detail")), http.StatusBadGateway, "upstream_error", "GitHub failed"},
		{"wrapped", fmt.Errorf("service: %w", apperror.NotFound("repository", "x")), http.StatusNotFound, "not_found", "repository not found with id x"},
		{"plain error", errors.New("database is locked"), http.StatusInternalServerError, "internal_error", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, tt.err)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decoding body: %v", err)
			}
			if body.Error != tt.wantType {
				t.Errorf("error = %q, want %q", body.Error, tt.wantType)
			}
			if body.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Message, tt.wantMsg)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	if err := decodeJSON(rr, req, &v); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	if v.Name != "ok" {
		t.Errorf("Name = %q, want ok", v.Name)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`not json`))
	err := decodeJSON(rr, req, &v)
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("decodeJSON(bad) = %v, want validation error", err)
	}
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"action":"opened"}`)
	// echo -n '{"action":"opened"}' | openssl dgst -sha256 -hmac s3cret
	const sig = "sha256=3ef76f8f67c2839504b3534592c6f42cabaa13dca21ed349ad19be2f2124b158"

	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"valid", "s3cret", sig, true},
		{"wrong secret", "other", sig, false},
		{"sha1 header", "s3cret", "sha1=3ef76f8f", false},
		{"not hex", "s3cret", "sha256=zz", false},
		{"empty", "s3cret", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validSignature(tt.secret, body, tt.header); got != tt.want {
				t.Errorf("validSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
