// Package server owns the HTTP surface of the exporter: the root page,
// /metrics with content negotiation, /healthz and the exporter's own
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/munnerz/goautoneg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nikiz24/registry-exporter/exposition"
	"github.com/nikiz24/registry-exporter/metric"
)

const (
	rootPath     = "/"
	metricsPath  = "/metrics"
	healthzPath  = "/healthz"
	selfPath     = "/exporter/metrics"
	okBody       = "ok\n"
	defaultCause = "unhealthy"
)

// Source supplies the families and global labels of one exposition.
type Source interface {
	Collect() iter.Seq[metric.Family]
	GlobalLabels() metric.Labels
}

// HealthFunc returns whether the exporter is healthy and, if not, a short reason.
type HealthFunc func() (bool, string)

// HelpPolicy decides whether HELP lines are written when the request does
// not say.
type HelpPolicy int

const (
	// HelpAutomatic leaves help out for Prometheus, which discards it, and
	// includes it for everyone else.
	HelpAutomatic HelpPolicy = iota
	HelpInclude
	HelpExclude
)

var helpPolicyNames = [...]string{"automatic", "include", "exclude"}

func (p HelpPolicy) String() string {
	if p >= 0 && int(p) < len(helpPolicyNames) {
		return helpPolicyNames[p]
	}
	return "HelpPolicy(" + strconv.Itoa(int(p)) + ")"
}

// ParseHelpPolicy parses "automatic", "include" or "exclude".
func ParseHelpPolicy(s string) (HelpPolicy, error) {
	for i, name := range helpPolicyNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return HelpPolicy(i), nil
		}
	}
	return 0, fmt.Errorf("unknown help policy %q (valid: %s)", s, strings.Join(helpPolicyNames[:], ", "))
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. The default discards.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHelpPolicy sets the default help policy.
func WithHelpPolicy(p HelpPolicy) Option {
	return func(h *Handler) { h.help = p }
}

// WithHealth serves /healthz from fn. Without it /healthz always reports ok.
func WithHealth(fn HealthFunc) Option {
	return func(h *Handler) { h.health = fn }
}

// WithGatherer serves the exporter's own metrics from g at /exporter/metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		if g != nil {
			h.self = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
	}
}

// WithMetrics records scrape statistics.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithChunkSize sets the size responses are flushed at.
func WithChunkSize(n int) Option {
	return func(h *Handler) { h.chunkSize = n }
}

// Handler serves the exporter's HTTP endpoints.
type Handler struct {
	source    Source
	logger    *zap.Logger
	help      HelpPolicy
	health    HealthFunc
	self      http.Handler
	metrics   *Metrics
	chunkSize int
	now       func() time.Time
}

// New returns a Handler exposing source.
func New(source Source, opts ...Option) *Handler {
	h := &Handler{
		source: source,
		logger: zap.NewNop(),
		health: func() (bool, string) { return true, "" },
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// httpError is answered with its status and message as a plain-text body.
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func errorf(status int, format string, args ...any) error {
	return &httpError{status: status, message: fmt.Sprintf(format, args...)}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.URL.Path {
	case rootPath:
		err = h.serveRoot(w, r)
	case metricsPath:
		err = h.serveMetrics(w, r)
	case healthzPath:
		err = h.serveHealth(w, r)
	case selfPath:
		if h.self == nil {
			err = errorf(http.StatusNotFound, "The requested URI could not be found.")
			break
		}
		h.self.ServeHTTP(w, r)
	default:
		err = errorf(http.StatusNotFound, "The requested URI could not be found.")
	}

	if err != nil {
		h.sendError(w, r, err)
	}
}

func (h *Handler) sendError(w http.ResponseWriter, r *http.Request, err error) {
	var he *httpError
	if !errors.As(err, &he) {
		h.logger.Error("Failed to process HTTP request",
			zap.String("method", r.Method), zap.String("uri", r.RequestURI), zap.Error(err))
		he = &httpError{
			status:  http.StatusInternalServerError,
			message: "An internal server error occurred while processing the request for this URI.",
		}
	}

	h.metrics.incErrors(strconv.Itoa(he.status))

	header := w.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Connection", "close")
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(he.status)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, he.message+"\n")
	}
}

func checkMethod(r *http.Request, methods ...string) error {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return errorf(http.StatusMethodNotAllowed, "The request method is not allowed for this URI.")
}

func (h *Handler) serveRoot(w http.ResponseWriter, r *http.Request) error {
	if err := checkMethod(r, http.MethodGet, http.MethodHead); err != nil {
		return err
	}
	accepted, err := parseAccept(r.Header.Get("Accept"))
	if err != nil {
		return errorf(http.StatusBadRequest, "The Accept header media type is invalid.")
	}
	if _, ok := negotiate(accepted, textHTML); !ok {
		return errorf(http.StatusNotAcceptable, "None of the specified acceptable media types are supported for this URI.")
	}

	w.Header().Set("Content-Type", exposition.HTMLContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rootDocument)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.WriteString(w, rootDocument)
	}
	return nil
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) error {
	if err := checkMethod(r, http.MethodGet, http.MethodHead); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	ok, reason := h.health()
	if ok {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, okBody)
		return nil
	}
	if reason == "" {
		reason = defaultCause
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, reason+"\n")
	return nil
}

// expositionFunc builds an Exposition for one request.
type expositionFunc func(families iter.Seq[metric.Family], ts time.Time, globals metric.Labels, includeHelp bool) exposition.Exposition

type format struct {
	name        string
	contentType string
	build       expositionFunc
}

var formats = map[mediaType]format{
	textFormat004: {"text", exposition.TextContentType, exposition.NewText},
	textPlain:     {"text", exposition.TextContentType, exposition.NewText},
	applicationJS: {"json", exposition.JSONContentType, exposition.NewJSON},
	textHTML:      {"html", exposition.HTMLContentType, exposition.NewHTML},
}

func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) error {
	if err := checkMethod(r, http.MethodGet, http.MethodHead); err != nil {
		return err
	}

	query := r.URL.Query()

	var accepted []goautoneg.Accept
	var err error
	if v, ok := lastValue(query, "x-accept"); ok {
		if accepted, err = parseAccept(v); err != nil || len(accepted) == 0 {
			return errorf(http.StatusBadRequest, "The media type specified for 'x-accept' is invalid.")
		}
	} else if accepted, err = parseAccept(r.Header.Get("Accept")); err != nil {
		return errorf(http.StatusBadRequest, "The Accept header media type is invalid.")
	}

	includeHelp, err := h.includeHelp(r, query)
	if err != nil {
		return err
	}

	mt, ok := negotiate(accepted, textFormat004, textPlain, applicationJS, textHTML)
	if !ok {
		return errorf(http.StatusNotAcceptable, "None of the specified acceptable media types are supported for this URI.")
	}
	f := formats[mt]

	w.Header().Set("Content-Type", f.contentType)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	scrapeID := uuid.New()
	start := h.now()
	e := f.build(h.source.Collect(), start, h.source.GlobalLabels(), includeHelp)

	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	n, err := exposition.NewChunker(e, h.chunkSize).Stream(r.Context(), w, func() { _ = rc.Flush() })
	elapsed := time.Since(start)

	if err != nil {
		// headers are gone; all that is left is to log
		level := zap.WarnLevel
		if errors.Is(err, context.Canceled) {
			level = zap.DebugLevel
		}
		h.logger.Log(level, "Metrics exposition aborted",
			zap.Stringer("scrape_id", scrapeID), zap.String("format", f.name),
			zap.Int64("bytes", n), zap.Error(err))
		return nil
	}

	h.metrics.observeScrape(f.name, n, elapsed)
	h.logger.Debug("Served metrics exposition",
		zap.Stringer("scrape_id", scrapeID), zap.String("format", f.name),
		zap.Bool("help", includeHelp), zap.Int64("bytes", n), zap.Duration("elapsed", elapsed),
		zap.String("remote", r.RemoteAddr))
	return nil
}

func (h *Handler) includeHelp(r *http.Request, query map[string][]string) (bool, error) {
	if v, ok := lastValue(query, "help"); ok {
		switch {
		case strings.EqualFold(v, "true"):
			return true, nil
		case strings.EqualFold(v, "false"):
			return false, nil
		default:
			return false, errorf(http.StatusBadRequest, "The value specified for 'help' is invalid.")
		}
	}

	switch h.help {
	case HelpExclude:
		return false, nil
	case HelpAutomatic:
		return !strings.HasPrefix(r.UserAgent(), "Prometheus"), nil
	default:
		return true, nil
	}
}

func lastValue(query map[string][]string, key string) (string, bool) {
	values := query[key]
	if len(values) == 0 {
		return "", false
	}
	return values[len(values)-1], true
}
