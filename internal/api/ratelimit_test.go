package api

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{"no proxy", "", "203.0.113.7:51234", "203.0.113.7"},
		{"single hop", "198.51.100.1", "10.0.0.2:80", "198.51.100.1"},
		{"proxy chain keeps client", "198.51.100.1, 10.0.0.2, 10.0.0.3", "10.0.0.3:80", "198.51.100.1"},
		{"chain with spaces", " 198.51.100.1 ,10.0.0.2", "10.0.0.2:80", "198.51.100.1"},
		{"unparseable remote", "", "not-an-addr", "not-an-addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
