package models

import (
	"testing"
	"time"
)

func TestFile_IsImage(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"image/svg+xml", false},
		{"application/pdf", false},
		{"text/plain; charset=utf-8", false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			f := &File{ContentType: tt.contentType}
			if got := f.IsImage(); got != tt.want {
				t.Errorf("IsImage() = %v, want %v", got, tt.want)
			}
		})
	}

	var nilFile *File
	if nilFile.IsImage() {
		t.Error("nil file should not be an image")
	}
}

func TestOAuthToken_ExpiresWithin(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"far future", at(time.Hour), false},
		{"inside margin", at(30 * time.Second), true},
		{"already expired", at(-time.Minute), true},
		{"exactly at margin", at(60 * time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &OAuthToken{ExpiresAt: tt.expiresAt}
			if got := tok.ExpiresWithin(now, 60*time.Second); got != tt.want {
				t.Errorf("ExpiresWithin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUsage_Increment(t *testing.T) {
	u := &Usage{Type: UsagePromptTokens}
	u.Increment(1500, 0.002)
	u.Increment(500, 0.002)

	if u.Quantity != 2000 {
		t.Errorf("Quantity = %d, want 2000", u.Quantity)
	}
	if diff := u.USDCost - 0.004; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("USDCost = %v, want 0.004", u.USDCost)
	}
}

func TestTestCaseStatus_Terminal(t *testing.T) {
	terminal := map[TestCaseStatus]bool{
		TestCasePending: false,
		TestCaseRunning: false,
		TestCaseSuccess: true,
		TestCaseFailure: true,
		TestCaseError:   true,
		TestCaseSkipped: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
