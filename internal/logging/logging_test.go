package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetVerbose(false)
	Debugf("hidden %d", 1)
	Infof("shown %d", 2)
	Warningf("careful")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Debug message should be suppressed when not verbose: %q", out)
	}
	if !strings.Contains(out, "INFO shown 2") {
		t.Errorf("Expected info message, got %q", out)
	}
	if !strings.Contains(out, "WARNING careful") {
		t.Errorf("Expected warning message, got %q", out)
	}

	buf.Reset()
	SetVerbose(true)
	Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG visible") {
		t.Errorf("Expected debug message in verbose mode, got %q", buf.String())
	}
	SetVerbose(false)
}

func TestSetupLogfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	Setup(Config{Logfile: path, MaxSize: 1, MaxAge: 1})
	Infof("to file")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "INFO to file") {
		t.Errorf("Expected message in log file, got %q", string(data))
	}
}
