package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v", log.GetLevel())
	}

	log, err = New("", "")
	if err != nil || log.GetLevel() != logrus.InfoLevel {
		t.Errorf("default level = %v, %v", log.GetLevel(), err)
	}

	if _, err := New("loud", ""); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "blurai.log")
	log, err := New("info", path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.WithField("file", "photo.jpg").Info("uploaded")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "uploaded") || !strings.Contains(string(data), "file=photo.jpg") {
		t.Errorf("unexpected log content %q", data)
	}
}
