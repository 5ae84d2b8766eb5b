package utils

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, LevelInfo, false)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	l.Info("hello", map[string]any{"n": 1})

	data, err := os.ReadFile(filepath.Join(dir, "crawler.log"))
	if err != nil {
		t.Fatalf("read crawler.log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry.Message != "hello" || entry.Level != LevelInfo {
		t.Errorf("entry = %+v, want message=hello level=INFO", entry)
	}
}

func TestLoggerRespectsMinLevel(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, LevelWarn, false)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	l.Debug("should be dropped", nil)
	l.Info("should also be dropped", nil)
	l.Warn("should be kept", nil)

	data, err := os.ReadFile(filepath.Join(dir, "crawler.log"))
	if err != nil {
		t.Fatalf("read crawler.log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1 (debug/info below min level)", len(lines))
	}
	if !strings.Contains(lines[0], "should be kept") {
		t.Errorf("surviving line = %q, want it to contain the WARN message", lines[0])
	}
}

func TestLoggerErrorAlsoWritesErrorFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, LevelInfo, false)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	defer l.Close()

	l.Error("boom", nil)

	data, err := os.ReadFile(filepath.Join(dir, "errors.log"))
	if err != nil {
		t.Fatalf("read errors.log: %v", err)
	}
	if !strings.Contains(string(data), "boom") {
		t.Errorf("errors.log = %q, want it to contain the error message", string(data))
	}
}

func TestScraperErrorRetrySemantics(t *testing.T) {
	e := NewTemporaryScraperError("fetch failed", "https://site.test/x", "site", "tile_fetch", 3)
	if !e.IsTemporary() {
		t.Error("temporary error should report IsTemporary() == true")
	}
	if !e.ShouldRetry() {
		t.Error("fresh temporary error with budget remaining should ShouldRetry() == true")
	}
	e.RetryCount = 3
	if e.ShouldRetry() {
		t.Error("temporary error at max retries should ShouldRetry() == false")
	}
}

func TestScraperErrorErrorStringIncludesURL(t *testing.T) {
	e := NewScraperError("parse failed", "https://site.test/item/1", "site", "detail_parse")
	msg := e.Error()
	if !strings.Contains(msg, "site") || !strings.Contains(msg, "detail_parse") || !strings.Contains(msg, "https://site.test/item/1") {
		t.Errorf("Error() = %q, want it to mention site, stage and URL", msg)
	}
}

func TestScraperErrorWithHTMLTruncatesLongBody(t *testing.T) {
	long := strings.Repeat("x", 20000)
	e := NewScraperError("boom", "", "site", "stage").WithHTML(long)
	if !strings.HasSuffix(e.RawHTML, "... [truncated]") {
		t.Error("WithHTML() should truncate bodies over 10000 bytes")
	}
	short := "<html>ok</html>"
	e2 := NewScraperError("boom", "", "site", "stage").WithHTML(short)
	if e2.RawHTML != short {
		t.Errorf("WithHTML() with a short body = %q, want unchanged %q", e2.RawHTML, short)
	}
}

func TestErrorGroupCollectsTemporaryErrorsWithoutCanceling(t *testing.T) {
	SetDefaultLogDir(t.TempDir())
	g, ctx := NewErrorGroup(context.Background())

	g.Go(func() error {
		return NewTemporaryScraperError("retryable", "", "site", "stage", 3)
	})
	g.Go(func() error {
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Errorf("Wait() = %v, want nil (only a temporary error occurred)", err)
	}
	if ctx.Err() == nil {
		t.Error("group context should be canceled once Wait() returns, regardless of outcome")
	}
	if len(g.GetErrors()) != 1 {
		t.Errorf("GetErrors() length = %d, want 1", len(g.GetErrors()))
	}
}

func TestErrorGroupCancelsOnNonTemporaryError(t *testing.T) {
	SetDefaultLogDir(t.TempDir())
	g, ctx := NewErrorGroup(context.Background())
	boom := errors.New("fatal")

	g.Go(func() error {
		return boom
	})
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err == nil {
		t.Error("Wait() should return the first non-temporary error")
	}
}
