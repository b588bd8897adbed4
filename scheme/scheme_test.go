package scheme

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123", wantOK: true},
		{name: "padded", header: "Bearer   abc123  ", want: "abc123", wantOK: true},
		{name: "missing header", header: "", wantOK: false},
		{name: "wrong type", header: "Basic abc123", wantOK: false},
		{name: "no token", header: "Bearer ", wantOK: false},
		{name: "lowercase type", header: "bearer abc123", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(r)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("token = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyOptions(t *testing.T) {
	opts := ApplyOptions([]Option{
		WithRemember(),
		WithRefreshToken(),
		WithName("ci token"),
		WithTTL(2 * time.Hour),
		WithClaims(map[string]any{"role": "admin"}),
		nil,
	})

	if !opts.Remember {
		t.Fatal("expected Remember set")
	}
	if !opts.RefreshToken {
		t.Fatal("expected RefreshToken set")
	}
	if opts.Name != "ci token" {
		t.Fatalf("Name = %q, want %q", opts.Name, "ci token")
	}
	if opts.TTL != 2*time.Hour {
		t.Fatalf("TTL = %v, want %v", opts.TTL, 2*time.Hour)
	}
	if opts.Claims["role"] != "admin" {
		t.Fatalf("Claims[role] = %v, want admin", opts.Claims["role"])
	}
}

func TestApplyOptionsZero(t *testing.T) {
	opts := ApplyOptions(nil)
	if opts.Remember || opts.RefreshToken || opts.Name != "" || opts.TTL != 0 || opts.Claims != nil {
		t.Fatalf("expected zero options, got %+v", opts)
	}
}
