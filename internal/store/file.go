package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tottag/controller/internal/naming"
	"tottag/controller/internal/reassembly"
)

// FileArchive writes each download to <directory>/<label>.json, replacing any
// earlier file for the same label.
type FileArchive struct {
	directory string
	now       func() time.Time
}

func NewFileArchive(directory string) *FileArchive {
	if strings.TrimSpace(directory) == "" {
		directory = "."
	}
	return &FileArchive{directory: directory, now: time.Now}
}

func (a *FileArchive) Name() string { return "file" }

// Save writes the download. An empty directory falls back to the archive default.
func (a *FileArchive) Save(_ context.Context, dl reassembly.Download, directory string) (string, error) {
	if strings.TrimSpace(directory) == "" {
		directory = a.directory
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	body, err := json.MarshalIndent(newDocument(dl, a.now()), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode download: %w", err)
	}

	path := filepath.Join(directory, naming.FileName(dl.Label)+".json")
	tmp, err := os.CreateTemp(directory, ".download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(body, '\n')); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename into %s: %w", path, err)
	}
	return path, nil
}

// Load reads an archived download back.
func Load(path string) (Document, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}
