// Package obs holds the service's observability surface: Prometheus
// metrics for the auth domain and the JSON line logger that HTTP access
// logs, audit events, and storage warnings all go through.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger. Output is one JSON object
// per line on stdout, with no prefix, so a collector can ingest it as-is.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// Emit writes entry as a single JSON log line. Callers supply their own
// fields; nothing is injected here, so audit events stay byte-faithful to
// what was hashed.
func Emit(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
