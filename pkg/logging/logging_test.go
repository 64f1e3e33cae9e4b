package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "debug", Format: FormatJSON, Out: &buf}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer InitDefault()

	log.Ctx(context.Background()).Debug().Str("k", "v").Msg("hello")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "hello" || entry["k"] != "v" || entry["level"] != "debug" {
		t.Fatalf("unexpected entry %#v", entry)
	}
}

func TestInitInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	err := Init(Options{Level: "chatty", Format: FormatConsole, NoColor: true, Out: &buf})
	defer InitDefault()
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
	log.Info().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("secret-token")
	if len(a) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", a)
	}
	if a != Fingerprint("secret-token") {
		t.Fatal("expected stable fingerprint")
	}
	if strings.Contains(a, "secret") || a == Fingerprint("other") {
		t.Fatal("unexpected fingerprint")
	}
	if Fingerprint("") != "" {
		t.Fatal("expected empty fingerprint for empty secret")
	}
}
