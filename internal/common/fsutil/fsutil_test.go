package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home) // os.UserHomeDir reads this on windows

	cases := []struct{ in, want string }{
		{"", ""},
		{"/var/lib/gend/jobs.db", "/var/lib/gend/jobs.db"},
		{"relative/weights.gguf", "relative/weights.gguf"},
		{"~", home},
		{"~/models/sd.safetensors", filepath.Join(home, "models", "sd.safetensors")},
	}
	for _, c := range cases {
		got, err := ExpandHome(c.in)
		if err != nil {
			t.Fatalf("ExpandHome(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ExpandHome(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "weights.bin")
	if PathExists(file) {
		t.Fatalf("%s should not exist yet", file)
	}
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !PathExists(file) {
		t.Fatalf("%s should exist after write", file)
	}
	if !PathExists(dir) {
		t.Fatal("directories count as existing")
	}
}
