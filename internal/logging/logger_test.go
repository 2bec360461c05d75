package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

// TestAllCategoriesLog tests that every category writes its own file when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(tempDir, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot, CategoryBrowser, CategorySync, CategoryBackend,
		CategoryStore, CategoryTranscript, CategoryUI,
	}
	for _, cat := range categories {
		Get(cat).Info("hello from %s", cat)
	}
	CloseAll()

	for _, cat := range categories {
		path := filepath.Join(tempDir, "logs", string(cat)+".log")
		lines := readLines(t, path)
		found := false
		for _, l := range lines {
			if l["msg"] == "hello from "+string(cat) && l["cat"] == string(cat) {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: message not found in %v", cat, lines)
		}
	}
}

func TestDebugModeDisabled(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(tempDir, Options{DebugMode: false}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	Sync("should not be written")
	Audit().PendingCleared()
	CloseAll()

	if _, err := os.Stat(filepath.Join(tempDir, "logs")); !os.IsNotExist(err) {
		t.Fatalf("logs directory created with debug_mode off: %v", err)
	}
}

func TestCategoryToggle(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	err := Initialize(tempDir, Options{
		DebugMode:  true,
		Categories: map[string]bool{"ui": false},
	})
	if err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsCategoryEnabled(CategoryUI) {
		t.Error("ui should be disabled")
	}
	if !IsCategoryEnabled(CategorySync) {
		t.Error("categories missing from the map default to enabled")
	}
	UI("dropped")
	CloseAll()

	if _, err := os.Stat(filepath.Join(tempDir, "logs", "ui.log")); !os.IsNotExist(err) {
		t.Fatalf("ui.log exists for a disabled category")
	}
}

func TestSetLevel(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(tempDir, Options{DebugMode: true, Level: "warn"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	BackendDebug("hidden")
	BackendWarn("visible")
	SetLevel("debug")
	BackendDebug("now visible")
	CloseAll()

	var msgs []string
	for _, l := range readLines(t, filepath.Join(tempDir, "logs", "backend.log")) {
		msgs = append(msgs, l["msg"].(string))
	}
	got := strings.Join(msgs, "|")
	if got != "visible|now visible" {
		t.Fatalf("messages = %q", got)
	}
}

func TestAuditEvents(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(tempDir, Options{DebugMode: true}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	Audit().QuestionAdopted(42, "Trapping Rain Water")
	Audit().Registration(42, false, "quota exceeded")
	Audit().Send(12, true, "")
	CloseAll()

	lines := readLines(t, filepath.Join(tempDir, "logs", "audit.log"))
	if len(lines) != 3 {
		t.Fatalf("got %d audit lines, want 3", len(lines))
	}
	if lines[0]["event"] != string(AuditQuestionAdopted) || lines[0]["question"] != float64(42) {
		t.Errorf("unexpected first event: %v", lines[0])
	}
	if lines[1]["event"] != string(AuditRegistrationFailed) || lines[1]["error"] != "quota exceeded" {
		t.Errorf("unexpected second event: %v", lines[1])
	}
	if lines[2]["event"] != string(AuditMessageSent) {
		t.Errorf("unexpected third event: %v", lines[2])
	}
}

func TestConcurrentGet(t *testing.T) {
	tempDir := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(tempDir, Options{DebugMode: true}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Get(CategorySync).Info("worker %d", i)
		}(i)
	}
	wg.Wait()

	if a, b := Get(CategorySync), Get(CategorySync); a != b {
		t.Error("Get returned different loggers for the same category")
	}
}

func TestTimer(t *testing.T) {
	timer := StartTimer(CategorySync, "detect")
	time.Sleep(time.Millisecond)
	if d := timer.StopWithThreshold(time.Hour); d <= 0 {
		t.Fatalf("elapsed = %v", d)
	}
}

func TestInitializeRequiresStateDir(t *testing.T) {
	if err := Initialize("", Options{}); err == nil {
		t.Fatal("expected error for empty state dir")
	}
}
