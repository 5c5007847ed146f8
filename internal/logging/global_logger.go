package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce  sync.Once
	fileMu     sync.Mutex
	fileWriter *lumberjack.Logger
)

// LogFormatter renders entries as "[time] [level] [file:line] message key=value".
type LogFormatter struct{}

// Format implements log.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	if entry.Caller != nil {
		fmt.Fprintf(b, "[%s] [%s] [%s] %s", timestamp, level, formatSource(entry.Caller.File, entry.Caller.Line), entry.Message)
	} else {
		fmt.Fprintf(b, "[%s] [%s] %s", timestamp, level, entry.Message)
	}
	for _, k := range sortedKeys(entry.Data) {
		fmt.Fprintf(b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

// SetupBaseLogger configures the standard logger once: custom formatter,
// caller reporting, stdout output and the global ring buffer hook.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.AddHook(GlobalBuffer)
	})
}

// SetLogLevel maps a configured level name onto logrus. quiet and silent
// only let fatal messages through; unknown names mean info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ConfigureLogOutput switches between stdout and a rotating log file.
// An empty path restores stdout and closes any previous file.
func ConfigureLogOutput(path string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		closeFileLocked()
		log.SetOutput(os.Stdout)
		return nil
	}
	if fileWriter != nil && fileWriter.Filename == path {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	closeFileLocked()
	fileWriter = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

// Close releases the log file, if any.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	closeFileLocked()
	log.SetOutput(os.Stdout)
}

func closeFileLocked() {
	if fileWriter != nil {
		_ = fileWriter.Close()
		fileWriter = nil
	}
}
