package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{" warning ", WARN, false},
		{"Error", ERROR, false},
		{"", INFO, false},
		{"verbose", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFileLoggingWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	if err := EnableFileLogging(path, 0); err != nil {
		t.Fatalf("EnableFileLogging: %v", err)
	}
	defer DisableFileLogging()

	prev := GetLevel()
	SetLevel(INFO)
	defer SetLevel(prev)

	DebugC("registry", "dropped below level")
	InfoCF("registry", "request registered", map[string]interface{}{"handle": 7})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var entries []LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e LogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Component != "registry" || entries[0].Message != "request registered" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
	if entries[0].Fields["handle"] != float64(7) {
		t.Fatalf("handle field = %v", entries[0].Fields["handle"])
	}
}

func TestFormatFieldsIsSorted(t *testing.T) {
	got := formatFields(map[string]interface{}{"b": 2, "a": 1})
	if got != "{a=1, b=2}" {
		t.Fatalf("formatFields = %q", got)
	}
}
