// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package net

import (
	"errors"
	"testing"
)

func TestSourcePolicyValidate(t *testing.T) {
	open, err := NewSourcePolicy(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	restricted, err := NewSourcePolicy([]string{"YouTube.com", "bücher.example"}, false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		policy  SourcePolicy
		input   string
		want    string
		wantErr error
	}{
		{name: "any host", policy: open, input: "https://valid.example/v1", want: "https://valid.example/v1"},
		{name: "host lowercased", policy: open, input: "https://Valid.Example/v1", want: "https://valid.example/v1"},
		{name: "loopback literal", policy: open, input: "http://127.0.0.1:8080/x", wantErr: ErrBlockedAddress},
		{name: "private literal", policy: open, input: "http://10.0.0.4/x", wantErr: ErrBlockedAddress},
		{name: "ipv6 loopback", policy: open, input: "http://[::1]/x", wantErr: ErrBlockedAddress},
		{name: "allowlisted exact", policy: restricted, input: "https://youtube.com/watch?v=1", want: "https://youtube.com/watch?v=1"},
		{name: "allowlisted subdomain", policy: restricted, input: "https://www.youtube.com/watch?v=1", want: "https://www.youtube.com/watch?v=1"},
		{name: "idna allowlist", policy: restricted, input: "https://xn--bcher-kva.example/a", want: "https://xn--bcher-kva.example/a"},
		{name: "suffix is not subdomain", policy: restricted, input: "https://notyoutube.com/x", wantErr: ErrHostNotAllowed},
		{name: "other host", policy: restricted, input: "https://vimeo.com/1", wantErr: ErrHostNotAllowed},
		{name: "credentials", policy: open, input: "https://a:b@valid.example/", wantErr: ErrCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.policy.Validate(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("Validate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSourcePolicyAllowPrivate(t *testing.T) {
	p, err := NewSourcePolicy(nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Validate("http://127.0.0.1:9000/v.mp4"); err != nil {
		t.Fatalf("expected private address to pass, got %v", err)
	}
}

func TestNewSourcePolicyRejectsBadHost(t *testing.T) {
	if _, err := NewSourcePolicy([]string{"https://example.com"}, false); err == nil {
		t.Fatal("expected error for host with scheme")
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"Example.COM.", "example.com", false},
		{"[::1]", "::1", false},
		{"bücher.example", "xn--bcher-kva.example", false},
		{"example.com:80", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeHost(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeHost(%q) err = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
