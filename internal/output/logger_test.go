package output

import (
	"bytes"
	"strings"
	"testing"
)

func newTestLogger() (*Logger, *bytes.Buffer, *bytes.Buffer) {
	var outBuf, errBuf bytes.Buffer
	l := NewLogger(&outBuf, &errBuf, false)
	return l, &outBuf, &errBuf
}

func TestLogger_InfoWritesToStdout(t *testing.T) {
	l, out, errOut := newTestLogger()
	l.Info("syncing %s", "mail")

	if !strings.Contains(out.String(), "syncing mail") {
		t.Errorf("expected message in stdout, got %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("expected nothing on stderr, got %q", errOut.String())
	}
}

func TestLogger_ErrorWritesToStderr(t *testing.T) {
	l, out, errOut := newTestLogger()
	l.Error("reload failed: %s", "timeout")

	if !strings.Contains(errOut.String(), "reload failed: timeout") {
		t.Errorf("expected message in stderr, got %q", errOut.String())
	}
	if out.Len() != 0 {
		t.Errorf("expected nothing on stdout, got %q", out.String())
	}
}

func TestLogger_SuccessWritesToStdout(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Success("certificate provisioned for %s", "example.test")

	if !strings.Contains(out.String(), "certificate provisioned for example.test") {
		t.Errorf("expected message in stdout, got %q", out.String())
	}
}

func TestLogger_DebugSuppressedWithoutVerbose(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Debug("allocated port 8123")

	if out.Len() != 0 {
		t.Errorf("expected no output when verbose is off, got %q", out.String())
	}
}

func TestLogger_DebugEmittedWithVerbose(t *testing.T) {
	l, out, _ := newTestLogger()
	l.SetVerbose(true)
	l.Debug("allocated port 8123")

	if !strings.Contains(out.String(), "allocated port 8123") {
		t.Errorf("expected debug message when verbose is on, got %q", out.String())
	}
}

func TestLogger_Output_SkipsEmpty(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Output("")

	if out.Len() != 0 {
		t.Errorf("expected no output for empty input, got %q", out.String())
	}
}

func TestLogger_Output_IndentsEachLine(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Output("line one\nline two")

	got := out.String()
	if !strings.Contains(got, "  line one") || !strings.Contains(got, "  line two") {
		t.Errorf("expected both lines indented, got %q", got)
	}
}

func TestLogger_HeaderUnderlinesTheTitle(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Header("environment staging")

	got := out.String()
	if !strings.Contains(got, "environment staging") {
		t.Errorf("expected title, got %q", got)
	}
	if !strings.Contains(got, strings.Repeat("-", len("environment staging"))) {
		t.Errorf("expected underline sized to title, got %q", got)
	}
}

func TestLogger_Table_AlignsColumns(t *testing.T) {
	l, out, _ := newTestLogger()
	l.Table([]string{"NAME", "ENABLED"}, [][]string{
		{"staging", "true"},
		{"prod", "false"},
	})

	got := out.String()
	for _, want := range []string{"NAME", "ENABLED", "staging", "true", "prod", "false"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in table output, got %q", want, got)
		}
	}
}
