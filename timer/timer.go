package timer

import (
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
})

func LoggerConfig(prefix string) {
	logger.SetPrefix(prefix)
}

// MakeRequestTimeTracker sticks a stopwatch to the handler. The saver is
// called with the time the handler took once it returns.
func MakeRequestTimeTracker(
	handler func(rw http.ResponseWriter, req *http.Request) error,
	saver func(t time.Duration),
	saveOnError bool,
) func(rw http.ResponseWriter, req *http.Request) error {
	return func(rw http.ResponseWriter, req *http.Request) error {
		start := time.Now()
		err := handler(rw, req)
		if err == nil || saveOnError {
			saver(time.Since(start))
		}

		return err
	}
}

// SaveTimeServed logs the time spent serving one file request.
func SaveTimeServed(servedTime time.Duration) {
	logger.Infof("Request served in %v", servedTime)
}
