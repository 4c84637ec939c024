package logging

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestRunIDStableAndShort(t *testing.T) {
	first := RunID()
	if len(first) != 8 {
		t.Fatalf("expected 8-char run id, got %q", first)
	}
	if second := RunID(); second != first {
		t.Fatalf("run id changed between calls: %q vs %q", first, second)
	}
}

func TestFormatterIncludesOrderedFields(t *testing.T) {
	formatter := &LogFormatter{}
	entry := &log.Entry{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "submitting credentials",
		Data: log.Fields{
			"status": 302,
			"stage":  "submit",
		},
	}

	out, err := formatter.Format(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := string(out)
	if !strings.Contains(line, "submitting credentials") {
		t.Fatalf("message missing from line: %q", line)
	}
	if !strings.Contains(line, "stage=submit status=302") {
		t.Fatalf("expected stage before status in line: %q", line)
	}
	if !strings.Contains(line, "["+RunID()+"]") {
		t.Fatalf("run id missing from line: %q", line)
	}
}

func TestFormatterRewritesWarningLevel(t *testing.T) {
	formatter := &LogFormatter{}
	entry := &log.Entry{
		Time:    time.Now(),
		Level:   log.WarnLevel,
		Message: "retry not permitted",
	}

	out, err := formatter.Format(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), "[warn ]") {
		t.Fatalf("expected shortened warn level, got %q", string(out))
	}
}
