package loadgen

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTransport marks a call that never produced an HTTP response.
	ErrTransport = errors.New("transport error")

	// ErrAssertion marks a response that failed its check.
	ErrAssertion = errors.New("assertion failure")
)

// Check names reported by the built-in scenarios.
const (
	CheckHealthcheck = "Healthcheck"
	CheckProfile     = "Profile"
	CheckList        = "List"
	CheckJobCreated  = "Job Created"
	CheckJobStatus   = "Job Status"
)

// Kind classifies the outcome of a single call.
type Kind int

const (
	KindOK Kind = iota
	KindTransportError
	KindAssertionFailure
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransportError:
		return "transport_error"
	case KindAssertionFailure:
		return "assertion_failure"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON reports.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Result is the outcome of one named check against one HTTP call.
//
// StatusCode is 0 when the call failed at the transport level.
type Result struct {
	Name          string        `json:"name"`
	StatusCode    int           `json:"statusCode"`
	Passed        bool          `json:"passed"`
	Kind          Kind          `json:"kind"`
	Err           error         `json:"-"`
	Duration      time.Duration `json:"duration"`
	BytesReceived int64         `json:"bytesReceived"`
	WorkerID      int           `json:"workerId"`
	Iteration     int64         `json:"iteration"`
	Timestamp     time.Time     `json:"timestamp"`
	ResourceID    string        `json:"resourceId,omitempty"`
}

// Sink consumes results. Implementations must be safe for concurrent use;
// each Result is handed off and never touched again by the worker.
type Sink interface {
	Record(Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

// Record calls f(r).
func (f SinkFunc) Record(r Result) {
	f(r)
}

// MultiSink fans a result out to several sinks in order.
type MultiSink []Sink

// Record forwards r to every sink.
func (m MultiSink) Record(r Result) {
	for _, s := range m {
		if s != nil {
			s.Record(r)
		}
	}
}

// Discard drops every result.
var Discard Sink = SinkFunc(func(Result) {})

// Recorder keeps every result in memory. Mostly useful in tests.
type Recorder struct {
	mu      sync.Mutex
	results []Result
}

// Record appends r.
func (r *Recorder) Record(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Results returns a copy of everything recorded so far.
func (r *Recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Result, len(r.results))
	copy(out, r.results)
	return out
}
