package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		wantErr string
	}{
		{CurrentVersion, ""},
		{0, "unsupported"},
		{-1, "unsupported"},
		{CurrentVersion + 1, "newer than this build"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("ValidateVersion(%d) = %v", tt.version, err)
			}
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("ValidateVersion(%d) = %T, want *VersionError", tt.version, err)
		}
		if !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("ValidateVersion(%d) = %q, want %q", tt.version, err, tt.wantErr)
		}
	}
}

func TestVersionErrorNilReceiver(t *testing.T) {
	var e *VersionError
	if e.Error() != "" {
		t.Errorf("nil VersionError message = %q", e.Error())
	}
}
