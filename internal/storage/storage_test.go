package storage

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteRejectsOverwrite(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := s.Write("reports/a.html", []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := s.Write("reports/a.html", []byte("two")); !errors.Is(err, ErrExists) {
		t.Fatalf("second write: got %v, want ErrExists", err)
	}

	rc, err := s.Open("reports/a.html")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "one" {
		t.Errorf("content: got %q, want %q", data, "one")
	}
}

func TestWriteUniqueNeverCollides(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		rel, err := s.WriteUnique("snapshots/sess1", "frame", ".jpg", []byte{1})
		if err != nil {
			t.Fatalf("WriteUnique: %v", err)
		}
		if seen[rel] {
			t.Fatalf("duplicate path %s", rel)
		}
		seen[rel] = true
		if !strings.HasPrefix(rel, "snapshots/sess1/frame-") {
			t.Errorf("unexpected layout: %s", rel)
		}
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, rel := range []string{"../etc/passwd", "a/../../b", ".."} {
		if _, err := s.Path(rel); err == nil {
			t.Errorf("Path(%q): expected error", rel)
		}
	}
}

func TestAppendAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Append("recordings/s1/upload.webm", []byte("ab")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("recordings/s1/upload.webm", []byte("cd")); err != nil {
		t.Fatalf("append: %v", err)
	}

	rc, err := s.Open("recordings/s1/upload.webm")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "abcd" {
		t.Errorf("content: got %q, want %q", data, "abcd")
	}

	if err := s.Remove("recordings/s1/upload.webm"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Exists("recordings/s1/upload.webm") {
		t.Error("file still exists after remove")
	}
	// Removing twice is fine.
	if err := s.Remove("recordings/s1/upload.webm"); err != nil {
		t.Errorf("second remove: %v", err)
	}
}
