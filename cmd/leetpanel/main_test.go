package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"leetpanel/internal/backend"
	"leetpanel/internal/config"
	"leetpanel/internal/question"
	"leetpanel/internal/reconcile"
	"leetpanel/internal/session"
	"leetpanel/internal/transcript"

	"go.uber.org/zap"
)

func TestRenderCmd_File(t *testing.T) {
	logger = zap.NewNop()
	path := filepath.Join(t.TempDir(), "in.md")
	if err := os.WriteFile(path, []byte("# Hint\n<script>x</script>"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	renderCmd.SetOut(&out)
	defer renderCmd.SetOut(nil)

	if err := renderCmd.RunE(renderCmd, []string{path}); err != nil {
		t.Fatalf("render returned error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "<h1>Hint</h1>") {
		t.Fatalf("expected heading, got: %s", got)
	}
	if strings.Contains(got, "<script>") {
		t.Fatalf("script tag leaked: %s", got)
	}
}

func TestRenderCmd_Stdin(t *testing.T) {
	var out bytes.Buffer
	renderCmd.SetIn(strings.NewReader("- a\n- b"))
	renderCmd.SetOut(&out)
	defer func() {
		renderCmd.SetIn(nil)
		renderCmd.SetOut(nil)
	}()

	if err := renderCmd.RunE(renderCmd, nil); err != nil {
		t.Fatalf("render returned error: %v", err)
	}
	if !strings.Contains(out.String(), "<ul><li>a</li><li>b</li></ul>") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestRenderCmd_MissingFile(t *testing.T) {
	if err := renderCmd.RunE(renderCmd, []string{filepath.Join(t.TempDir(), "nope.md")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPrintState(t *testing.T) {
	var out bytes.Buffer
	printState(&out, reconcile.State{
		HasTab:   true,
		OnSite:   true,
		TabURL:   "https://leetcode.com/problems/trapping-rain-water/",
		Question: question.Ready(42, "Trapping Rain Water"),
		Pending:  &question.Pending{Number: 17, Title: "Letter Combinations of a Phone Number"},
		Session:  &session.Session{SessionID: "s1", Username: "ada", AuthToken: "tok"},
	})

	got := out.String()
	for _, want := range []string{
		"Phase:    ready_uninitialized",
		"Question: 42. Trapping Rain Water",
		"Pending:  17. Letter Combinations of a Phone Number",
		"Session:  s1 (ada)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Status:") {
		t.Errorf("empty status should be omitted:\n%s", got)
	}
}

func TestPrintState_NoSession(t *testing.T) {
	output := captureOutput(t, func() {
		printState(os.Stdout, reconcile.State{Question: question.NotApplicable("Open a problem page to start.")})
	})
	if !strings.Contains(output, "Session:  none") {
		t.Fatalf("expected no-session line, got: %s", output)
	}
}

func TestPrintTranscript(t *testing.T) {
	var out bytes.Buffer
	printTranscript(&out, []transcript.Entry{
		{Role: transcript.RoleUser, Content: "hi"},
		{Role: transcript.RoleAssistant, Content: "hello"},
	})
	if out.String() != "You:\nhi\n\nTutor:\nhello\n\n" {
		t.Fatalf("unexpected transcript: %q", out.String())
	}
}

func TestHTMLDocument(t *testing.T) {
	doc := htmlDocument(`<b>42</b>`, "<p>x</p>\n")
	if !strings.Contains(doc, "<title>&lt;b&gt;42&lt;/b&gt;</title>") {
		t.Fatalf("title not escaped: %s", doc)
	}
	if !strings.Contains(doc, "<body>\n<p>x</p>\n</body>") {
		t.Fatalf("body missing: %s", doc)
	}
}

func TestUserError(t *testing.T) {
	if userError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
	err := userError(&backend.RejectionError{Status: 409, Message: "Username already taken"})
	if err.Error() != "Username already taken" {
		t.Fatalf("got %q", err.Error())
	}
	plain := errors.New("disk full")
	if userError(plain) != plain {
		t.Fatal("non-backend errors pass through")
	}
}

func TestBrowserConfig(t *testing.T) {
	cfg, err := loadConfigFrom(t, "browser:\n  debugger_url: http://127.0.0.1:9222\n  launch: false\n  event_throttle: 1s\n")
	if err != nil {
		t.Fatal(err)
	}
	bc := browserConfig(cfg)
	if bc.DebuggerURL != "http://127.0.0.1:9222" || bc.Launch || bc.EventThrottle.String() != "1s" {
		t.Fatalf("unexpected browser config: %+v", bc)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	if _, err := loadConfigFrom(t, "store:\n  kind: postgres\n"); err == nil {
		t.Fatal("expected validation error")
	}
}

func loadConfigFrom(t *testing.T, yaml string) (*config.Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leetpanel.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	orig := configPath
	configPath = path
	defer func() { configPath = orig }()
	return loadConfig()
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}
