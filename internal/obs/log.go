package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogEvent emits a structured JSON log line. Missing ts/level fields are
// filled with defaults so call sites can stay terse.
func LogEvent(entry map[string]any) {
	if entry == nil {
		return
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["level"]; !ok {
		entry["level"] = "info"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// Warn logs a warning with a message and optional fields.
func Warn(msg string, fields map[string]any) {
	entry := map[string]any{"level": "warn", "msg": msg}
	for k, v := range fields {
		entry[k] = v
	}
	LogEvent(entry)
}
