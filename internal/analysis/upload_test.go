package analysis

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gardenbot/internal/domain"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"leaf.jpg", "leaf.jpg"},
		{"My Plant.JPG", "My_Plant.JPG"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\basil 1.png`, "basil_1.png"},
		{"..", ""},
		{".hidden", "hidden"},
		{"basil<script>.jpg", "basilscript.jpg"},
		{"ünïcode.png", "ncode.png"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SecureFilename(tt.in); got != tt.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveUpload(t *testing.T) {
	svc := newTestService(t, &fakeTelemetry{}, &fakeRunner{}, nil)

	path, err := svc.SaveUpload("../evil name.jpg", strings.NewReader("jpegdata"))
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if filepath.Dir(path) != svc.uploadDir || !strings.HasSuffix(filepath.Base(path), "-evil_name.jpg") {
		t.Errorf("unexpected path %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "jpegdata" {
		t.Errorf("unexpected content %q %v", data, err)
	}
}

func TestSaveUpload_Rejects(t *testing.T) {
	svc := newTestService(t, &fakeTelemetry{}, &fakeRunner{}, nil)

	if _, err := svc.SaveUpload("  ", strings.NewReader("x")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for blank name, got %v", err)
	}
	if _, err := svc.SaveUpload("empty.jpg", strings.NewReader("")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected InvalidInput for empty file, got %v", err)
	}
	if entries, _ := os.ReadDir(svc.uploadDir); len(entries) != 0 {
		t.Error("empty upload should not be left on disk")
	}
}

func TestSaveUpload_UnsafeNameGetsRandomName(t *testing.T) {
	svc := newTestService(t, &fakeTelemetry{}, &fakeRunner{}, nil)

	path, err := svc.SaveUpload("...", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, ".jpg") || len(filepath.Base(path)) != 40 {
		t.Errorf("expected a uuid name, got %q", path)
	}
}

func TestSaveUpload_SameNameGetsSeparateFiles(t *testing.T) {
	svc := newTestService(t, &fakeTelemetry{}, &fakeRunner{}, nil)

	a, err := svc.SaveUpload("image.jpg", strings.NewReader("A"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.SaveUpload("image.jpg", strings.NewReader("B"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("both uploads written to %q", a)
	}
	if data, _ := os.ReadFile(a); string(data) != "A" {
		t.Errorf("first upload overwritten: %q", data)
	}
}
