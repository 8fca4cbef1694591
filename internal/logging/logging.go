// Package logging is a small leveled logger over the standard log package.
// Messages go to stderr unless a log file is configured, in which case the
// file is rotated by lumberjack.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/natefinch/lumberjack"
)

// Config selects where log messages go.
type Config struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"`
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`
	Verbose bool   `yaml:"verbose" toml:"verbose"`
}

var (
	mu      sync.Mutex
	verbose bool
	rotator *lumberjack.Logger
)

// Setup applies the config. With no log file, messages are sent to stderr.
func Setup(c Config) {
	mu.Lock()
	defer mu.Unlock()

	verbose = c.Verbose
	if rotator != nil {
		rotator.Close()
		rotator = nil
	}
	if c.Logfile == "" {
		log.SetOutput(os.Stderr)
		return
	}
	rotator = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// SetVerbose toggles Debug level messages.
func SetVerbose(v bool) {
	mu.Lock()
	verbose = v
	mu.Unlock()
}

// Debugf logs only in verbose mode.
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	v := verbose
	mu.Unlock()
	if v {
		log.Printf(" DEBUG "+format, args...)
	}
}

// Infof logs at Info level.
func Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

// Warningf logs at Warning level.
func Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

// Errorf logs at Error level.
func Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

// Shutdown closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if rotator != nil {
		if err := rotator.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
		}
		rotator = nil
	}
	log.SetOutput(os.Stderr)
}
