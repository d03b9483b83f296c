package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/lorapix/internal/config"
)

// The consent check runs before any storage access, so a nil store is
// safe for the rejection paths.
func TestCreatePersonRequiresConsent(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewPersonHandler(nil, nil, nil, config.PipelineConfig{})
	r := gin.New()
	r.POST("/v1/persons", h.Create)

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "consent not confirmed",
			body:    `{"name":"Ada","consent_confirmed":false,"subject_is_adult":true}`,
			wantMsg: "consent_confirmed must be true",
		},
		{
			name:    "subject not adult",
			body:    `{"name":"Ada","consent_confirmed":true,"subject_is_adult":false}`,
			wantMsg: "subject_is_adult must be true",
		},
		{
			name:    "both flags missing",
			body:    `{"name":"Ada"}`,
			wantMsg: "consent_confirmed must be true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/persons", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusBadRequest, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantMsg) {
				t.Fatalf("body %q does not mention %q", w.Body.String(), tt.wantMsg)
			}
		})
	}
}
