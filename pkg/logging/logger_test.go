// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{"info", LevelInfo, false},
		{" warn ", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownLevel) {
				t.Errorf("error = %v, want ErrUnknownLevel", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(42), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNew_Output(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Service: "memnet", Output: &buf})
	defer logger.Close()

	logger.Info("graph loaded", "nodes", 3)

	out := buf.String()
	if !strings.Contains(out, "graph loaded") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "service=memnet") {
		t.Errorf("output missing service attribute: %q", out)
	}
	if !strings.Contains(out, "nodes=3") {
		t.Errorf("output missing nodes attribute: %q", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})
	defer logger.Close()

	logger.Warn("slow query", "ms", 120)

	if !strings.Contains(buf.String(), `"msg":"slow query"`) {
		t.Errorf("expected JSON record, got %q", buf.String())
	}
}

func TestNew_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	defer logger.Close()

	logger.Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
	if logger.Slog() == nil {
		t.Error("Slog() is nil in quiet mode")
	}
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Service: "test", Quiet: true})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("logger.file is nil when LogDir specified")
	}
	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "test_") {
		t.Errorf("unexpected log files: %v", files)
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Quiet: true})
	defer logger.Close()

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "memnet_") {
		t.Errorf("expected a memnet_ log file, got %v", files)
	}
}

func TestNew_WithLogDir_Unwritable(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Quiet: true})
	defer logger.Close()

	if logger.file != nil {
		t.Error("logger.file should be nil when the directory cannot be created")
	}
	logger.Info("still works")
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
	if logger.config.Service != "memnet" {
		t.Errorf("Default service = %v, want memnet", logger.config.Service)
	}
}

func TestIsTerminal(t *testing.T) {
	var buf bytes.Buffer
	if IsTerminal(&buf) {
		t.Error("bytes.Buffer reported as terminal")
	}
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("regular file reported as terminal")
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})
	defer logger.Close()

	logger.Debug("debug msg")
	logger.Info("info msg")
	logger.Warn("warn msg")
	logger.Error("error msg")

	out := buf.String()
	for _, dropped := range []string{"debug msg", "info msg"} {
		if strings.Contains(out, dropped) {
			t.Errorf("output should not contain %q", dropped)
		}
	}
	for _, kept := range []string{"warn msg", "error msg"} {
		if !strings.Contains(out, kept) {
			t.Errorf("output should contain %q", kept)
		}
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	tmpDir := t.TempDir()
	logger := New(Config{Output: &buf, LogDir: tmpDir})
	defer logger.Close()

	child := logger.With("component", "query")
	if child.file != logger.file {
		t.Error("child should share the parent's file handle")
	}
	child.Info("hit")

	if !strings.Contains(buf.String(), "component=query") {
		t.Errorf("child attribute missing: %q", buf.String())
	}
}

func TestLogger_Close(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		logger := New(Config{Quiet: true})
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})

	t.Run("file closed once", func(t *testing.T) {
		logger := New(Config{LogDir: t.TempDir(), Quiet: true})
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
		if err := logger.Close(); err != nil {
			t.Errorf("second Close() = %v", err)
		}
	})
}

func TestLogger_FileContent(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: tmpDir, Service: "file-test", Quiet: true})

	logger.Info("snapshot saved", "name", "default")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	files, _ := os.ReadDir(tmpDir)
	if len(files) == 0 {
		t.Fatal("No log file created")
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), `"name":"default"`) {
		t.Errorf("log file should hold JSON records, got %q", content)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	logger := New(Config{Output: &lockedWriter{mu: &mu, w: &buf}})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent log", "n", n)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Count(buf.String(), "concurrent log"); got != 100 {
		t.Errorf("Expected 100 records, got %d", got)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	h1 := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	h2 := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})
	mh := &multiHandler{handlers: []slog.Handler{h1, h2}}

	if mh.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should not be enabled")
	}
	if !mh.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("Warn should be enabled")
	}
}

func TestMultiHandler_Handle_LevelFiltering(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelDebug})
	h2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelError})
	mh := &multiHandler{handlers: []slog.Handler{h1, h2}}

	record := slog.Record{Level: slog.LevelInfo, Message: "info"}
	if err := mh.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle() returned error: %v", err)
	}
	if buf1.Len() == 0 {
		t.Error("buf1 should have content")
	}
	if buf2.Len() != 0 {
		t.Error("buf2 should be empty")
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (failingHandler) Handle(context.Context, slog.Record) error {
	return errors.New("disk full")
}

func TestMultiHandler_Handle_ErrorDoesNotStopFanOut(t *testing.T) {
	var buf bytes.Buffer
	mh := &multiHandler{handlers: []slog.Handler{
		failingHandler{},
		slog.NewTextHandler(&buf, nil),
	}}

	err := mh.Handle(context.Background(), slog.Record{Level: slog.LevelInfo, Message: "x"})
	if err == nil || err.Error() != "disk full" {
		t.Errorf("Handle() error = %v, want disk full", err)
	}
	if buf.Len() == 0 {
		t.Error("second handler should still receive the record")
	}
}

func TestMultiHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	mh := &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&buf, nil)}}

	h := mh.WithAttrs([]slog.Attr{slog.String("key", "value")}).WithGroup("grp")
	if _, ok := h.(*multiHandler); !ok {
		t.Fatalf("got %T, want *multiHandler", h)
	}
	slog.New(h).Info("msg", "inner", 1)
	out := buf.String()
	if !strings.Contains(out, "key=value") || !strings.Contains(out, "grp.inner=1") {
		t.Errorf("unexpected output %q", out)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"~/.memnet/logs", filepath.Join(home, ".memnet/logs")},
		{"~", home},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
