package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeID(t *testing.T) {
	valid := []string{"a", "A1._-", "3f2a9c0e-7d1b-4f57-9a43-b0b8a1b2c3d4", "web:1"}
	invalid := []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "unicode한글", string(make([]byte, 129))}
	for _, s := range valid {
		if !isSafeID(s) {
			t.Fatalf("expected valid id %q", s)
		}
	}
	for _, s := range invalid {
		if isSafeID(s) {
			t.Fatalf("expected invalid id %q", s)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
