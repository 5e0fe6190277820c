package secrets

import (
	"errors"
	"strings"
	"testing"
)

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	box, err := NewBox(key)
	if err != nil {
		t.Fatalf("NewBox() error = %v", err)
	}
	return box
}

func TestBox_SealOpen(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal("refresh-token-value")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "refresh-token-value") {
		t.Fatal("sealed value contains the plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != "refresh-token-value" {
		t.Errorf("Open() = %q, want %q", opened, "refresh-token-value")
	}
}

func TestBox_EmptyValues(t *testing.T) {
	box := newTestBox(t)
	sealed, err := box.Seal("")
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v; want empty, nil", sealed, err)
	}
	opened, err := box.Open("")
	if err != nil || opened != "" {
		t.Errorf("Open(\"\") = %q, %v; want empty, nil", opened, err)
	}
}

func TestBox_WrongKey(t *testing.T) {
	sealed, err := newTestBox(t).Seal("secret")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := newTestBox(t).Open(sealed); err == nil {
		t.Error("Open() with a different key should fail")
	}
}

func TestNewBox_Invalid(t *testing.T) {
	if _, err := NewBox(""); !errors.Is(err, ErrNoKey) {
		t.Errorf("NewBox(\"\") error = %v, want ErrNoKey", err)
	}
	if _, err := NewBox("not-a-key"); err == nil {
		t.Error("NewBox() with garbage should fail")
	}
}
