package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Init("pktcanalyzer", Options{Level: "warn", Out: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Info().Msg("dropped")
	log.Warn().Int("port", 1293).Msg("kept")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "kept" || entry["app"] != "pktcanalyzer" || entry["port"] != float64(1293) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestInitBadLevel(t *testing.T) {
	if _, err := Init("pktcanalyzer", Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
