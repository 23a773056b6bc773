package main

import (
	"strings"
	"testing"
)

func TestCheckArch(t *testing.T) {
	if err := checkArch("arm64"); err != nil {
		t.Errorf("checkArch(arm64) = %v, want nil", err)
	}

	err := checkArch("z80")
	if err == nil {
		t.Fatal("checkArch(z80) = nil, want unknown-profile error")
	}
	if !strings.Contains(err.Error(), "arm64") {
		t.Errorf("error does not list supported profiles: %v", err)
	}

	// Valid projection profile, but not emulatable by the harness.
	if err := checkArch("x86_64"); err == nil {
		t.Error("checkArch(x86_64) = nil, want harness restriction error")
	}
}
