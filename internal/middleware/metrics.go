// Package middleware hooks request start and completion into the correlator
// and turns every matched pair into a request sample.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/beacon/internal/correlator"
	"github.com/tinytelemetry/beacon/internal/model"
)

// Path label modes.
const (
	PathLabelSegment = "segment"
	PathLabelRoute   = "route"
)

// Config wires the middleware to its collaborators.
type Config struct {
	Correlator *correlator.Correlator
	Sink       model.SampleSink
	// PathLabel selects how the path label is derived: PathLabelSegment
	// (first URL segment, default) or PathLabelRoute (gin route template).
	PathLabel string
	Now       func() time.Time
}

// ErrInvalidPathLabel is returned for an unsupported path label mode.
var ErrInvalidPathLabel = errors.New("middleware: invalid path label mode")

// ValidatePathLabel checks mode against the supported path label modes.
func ValidatePathLabel(mode string) error {
	switch strings.ToLower(mode) {
	case "", PathLabelSegment, PathLabelRoute:
		return nil
	}
	return fmt.Errorf("%w %q (want %s or %s)", ErrInvalidPathLabel, mode, PathLabelSegment, PathLabelRoute)
}

// New returns a gin middleware that correlates each request and submits a
// request sample once it completes. Requests whose correlator entry was
// evicted produce no sample. Websocket upgrades are passed through untimed
// since their handler runs for the life of the connection.
func New(conf Config) gin.HandlerFunc {
	if conf.Correlator == nil {
		conf.Correlator = correlator.New(0)
	}
	now := conf.Now
	if now == nil {
		now = time.Now
	}
	useRoute := strings.EqualFold(conf.PathLabel, PathLabelRoute)

	return func(c *gin.Context) {
		if isUpgrade(c.Request) {
			c.Next()
			return
		}

		id := conf.Correlator.NextID()
		conf.Correlator.Begin(id, now())

		panicked := true
		defer func() {
			if !panicked {
				return
			}
			r := recover()
			complete(c, conf, id, now(), useRoute, true)
			// nil means runtime.Goexit is unwinding; let it continue.
			if r != nil {
				panic(r)
			}
		}()

		c.Next()
		panicked = false
		complete(c, conf, id, now(), useRoute, false)
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func complete(c *gin.Context, conf Config, id correlator.ID, end time.Time, useRoute, panicked bool) {
	elapsed, ok := conf.Correlator.Complete(id, end)
	if !ok || conf.Sink == nil {
		return
	}

	status := c.Writer.Status()
	if panicked && !c.Writer.Written() {
		status = http.StatusInternalServerError
	}

	urlPath := c.Request.URL.Path
	path := model.TopLevelPath(urlPath)
	if useRoute {
		if route := c.FullPath(); route != "" {
			path = route
		}
	}

	conf.Sink.Submit(model.NewRequestSample(end, model.RequestSample{
		Method:     c.Request.Method,
		Path:       path,
		URL:        urlPath,
		StatusCode: status,
		Failed:     panicked || len(c.Errors) > 0,
		Duration:   elapsed,
	}))
}

