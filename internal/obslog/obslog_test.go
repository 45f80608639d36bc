package obslog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRespectsConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info().Msg("should be suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected info-level message to be suppressed under warn level, got %q", buf.String())
	}

	l.Warn().Msg("should appear")
	if buf.Len() == 0 {
		t.Fatal("expected warn-level message to be emitted under warn level")
	}
}

func TestComponentSubLoggersTagTheirName(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.Wal().Info().Msg("recovered")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a JSON log line, got %q (%v)", buf.String(), err)
	}
	if line["component"] != "wal" {
		t.Fatalf("expected component=wal, got %v", line["component"])
	}
	if line["service"] != "graphkernel" {
		t.Fatalf("expected service=graphkernel on every line, got %v", line["service"])
	}
}

func TestDbAndCompactionSubLoggersAreDistinct(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})

	l.Db().Info().Msg("opened")
	l.Compaction().Info().Msg("ran")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line failed: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line failed: %v", err)
	}
	if first["component"] != "engine" || second["component"] != "compaction" {
		t.Fatalf("expected distinct component tags, got %v and %v", first["component"], second["component"])
	}
}
