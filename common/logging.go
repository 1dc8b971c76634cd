// Package common provides the shared infrastructure of the OPERANDI broker:
// the process-wide logger, the environment-driven configuration surface,
// queue and collection constants, URL validators and the wire message types
// exchanged with the OPERANDI server and harvester.
//
// The logging system is built on logrus with intelligent output routing that
// directs error-level lines to stderr while all other levels go to stdout,
// enabling proper stream separation for containerized and scripted
// environments. Every broker process additionally tees its log stream into a
// per-process file below the configured logs directory, so the supervisor and
// each worker subprocess leave independent, greppable trails:
//
//	<logs_dir>/broker_<pid>.log
//	<logs_dir>/worker_<pid>_<queue>.log
package common

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level. Error messages (containing "level=error") go to stderr so
// monitoring systems and shell scripts can treat them with higher priority;
// everything else goes to stdout.
type OutputSplitter struct{}

// Write implements io.Writer and performs the stream routing. The check is a
// plain byte match on the formatted line, which keeps the splitter compatible
// with both text and JSON formatters without parsing overhead.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the shared logger instance used across all broker packages.
// It is initialized with the OutputSplitter; ConfigureProcessLogging adds
// the per-process file tee once the configuration is known.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// ProcessKind identifies which kind of broker process is writing a log file.
type ProcessKind string

const (
	ProcessKindBroker ProcessKind = "broker"
	ProcessKindWorker ProcessKind = "worker"
)

// ProcessLogFilePath returns the log file path for a process of the given
// kind. Worker processes append the queue name they consume from:
//
//	broker_4711.log
//	worker_4712_harvester_queue.log
func ProcessLogFilePath(logsDir string, kind ProcessKind, queueName string) string {
	if kind == ProcessKindWorker && queueName != "" {
		return filepath.Join(logsDir, fmt.Sprintf("%s_%d_%s.log", kind, os.Getpid(), queueName))
	}
	return filepath.Join(logsDir, fmt.Sprintf("%s_%d.log", kind, os.Getpid()))
}

// ConfigureProcessLogging creates the logs directory if needed, opens the
// per-process log file and re-points the shared Logger at a writer that
// feeds both the OutputSplitter and the file. It returns the log file path.
//
// Each process calls this exactly once, immediately after it knows its role;
// the supervisor before spawning workers, each worker as its first action.
func ConfigureProcessLogging(logsDir string, kind ProcessKind, queueName string) (string, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create logs directory %s: %w", logsDir, err)
	}

	logPath := ProcessLogFilePath(logsDir, kind, queueName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	Logger.SetOutput(io.MultiWriter(&OutputSplitter{}, logFile))
	return logPath, nil
}
