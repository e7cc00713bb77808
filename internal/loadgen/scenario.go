package loadgen

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ScenarioKind selects one of the built-in scenarios.
type ScenarioKind string

const (
	// ScenarioLoad mixes dashboard reads with an occasional store creation.
	ScenarioLoad ScenarioKind = "load"

	// ScenarioStress creates a store on every iteration.
	ScenarioStress ScenarioKind = "stress"
)

// DefaultCreateProbability is the chance a load iteration also creates a store.
const DefaultCreateProbability = 0.05

// Scenario is what a worker executes once per iteration.
//
// Iterate must stop issuing calls as soon as Worker.Do or Worker.Sleep
// report false.
type Scenario interface {
	Name() string
	Iterate(ctx context.Context, w *Worker)
}

// Paths are the endpoints exercised by the scenarios.
type Paths struct {
	Healthcheck string
	Profile     string
	Stores      string
	Jobs        string
}

// DefaultPaths returns the store API routes.
func DefaultPaths() Paths {
	return Paths{
		Healthcheck: "/healthcheck",
		Profile:     "/user/profile",
		Stores:      "/stores/",
		Jobs:        "/jobs/",
	}
}

// ScenarioOptions tunes the built-in scenarios.
type ScenarioOptions struct {
	Paths             Paths
	Pacer             Pacer
	Payload           PayloadShape
	CreateProbability float64
	ExpectStatus      int

	// ValidateResponse checks creation bodies against CreateStoreResponseSchema
	ValidateResponse bool

	// TrackJob follows a successful creation with GET {Jobs}{setup_job_id}
	TrackJob bool
}

// DefaultScenarioOptions returns the stock paths, payload shape and pacing.
func DefaultScenarioOptions() ScenarioOptions {
	return ScenarioOptions{
		Paths:             DefaultPaths(),
		Pacer:             DefaultPacer(),
		Payload:           DefaultPayloadShape(),
		CreateProbability: DefaultCreateProbability,
		ExpectStatus:      http.StatusOK,
	}
}

// NewScenario builds the scenario selected by kind.
func NewScenario(kind ScenarioKind, opts ScenarioOptions) (Scenario, error) {
	create, err := newStoreCreation(opts)
	if err != nil {
		return nil, err
	}

	switch kind {
	case ScenarioLoad:
		return &LoadScenario{
			Paths:             opts.Paths,
			Pacer:             opts.Pacer,
			ExpectStatus:      opts.ExpectStatus,
			CreateProbability: opts.CreateProbability,
			Create:            create,
		}, nil
	case ScenarioStress:
		return &StressScenario{Pacer: opts.Pacer, Create: create}, nil
	default:
		return nil, fmt.Errorf("unknown scenario %q (want %q or %q)", kind, ScenarioLoad, ScenarioStress)
	}
}

// StoreCreation posts a freshly generated store.
type StoreCreation struct {
	Path         string
	JobsPath     string
	Payload      PayloadShape
	ExpectStatus int
	Schema       *BodySchema
	TrackJob     bool
}

func newStoreCreation(opts ScenarioOptions) (*StoreCreation, error) {
	c := &StoreCreation{
		Path:         opts.Paths.Stores,
		JobsPath:     opts.Paths.Jobs,
		Payload:      opts.Payload,
		ExpectStatus: opts.ExpectStatus,
		TrackJob:     opts.TrackJob,
	}
	if opts.ValidateResponse {
		schema, err := CompileSchema("create-store-response.json", CreateStoreResponseSchema)
		if err != nil {
			return nil, err
		}
		c.Schema = schema
	}
	return c, nil
}

// Run creates one store. It returns false if the worker was stopped before
// a call could be issued.
func (c *StoreCreation) Run(ctx context.Context, w *Worker) bool {
	call := Call{
		Name:         CheckJobCreated,
		Method:       http.MethodPost,
		Path:         c.Path,
		JSON:         c.Payload.NewStorePayload(w.Strings()),
		ExpectStatus: c.ExpectStatus,
		ExtractID:    "setup_job_id",
	}
	if c.Schema != nil {
		call.Validate = c.Schema.Validate
	}

	res, ok := w.Do(ctx, call)
	if !ok {
		return false
	}

	if c.TrackJob && res.Passed && res.ResourceID != "" {
		_, ok = w.Do(ctx, Call{
			Name:         CheckJobStatus,
			Method:       http.MethodGet,
			Path:         c.JobsPath + url.PathEscape(res.ResourceID),
			ExpectStatus: c.ExpectStatus,
		})
	}
	return ok
}

// StressScenario creates a store, then thinks.
type StressScenario struct {
	Pacer  Pacer
	Create *StoreCreation
}

// Name returns "stress".
func (s *StressScenario) Name() string {
	return string(ScenarioStress)
}

// Iterate runs one stress iteration.
func (s *StressScenario) Iterate(ctx context.Context, w *Worker) {
	if !s.Create.Run(ctx, w) {
		return
	}
	w.Sleep(ctx, s.Pacer.Next(w.Random()))
}

// LoadScenario reads the dashboard and occasionally creates a store.
type LoadScenario struct {
	Paths             Paths
	Pacer             Pacer
	ExpectStatus      int
	CreateProbability float64
	Create            *StoreCreation
}

// Name returns "load".
func (s *LoadScenario) Name() string {
	return string(ScenarioLoad)
}

// Iterate runs one load iteration. Every step runs regardless of earlier
// check outcomes.
func (s *LoadScenario) Iterate(ctx context.Context, w *Worker) {
	reads := []Call{
		{Name: CheckHealthcheck, Method: http.MethodGet, Path: s.Paths.Healthcheck, ExpectStatus: s.ExpectStatus},
		{Name: CheckProfile, Method: http.MethodGet, Path: s.Paths.Profile, ExpectStatus: s.ExpectStatus},
		{Name: CheckList, Method: http.MethodGet, Path: s.Paths.Stores, ExpectStatus: s.ExpectStatus},
	}
	for _, call := range reads {
		if _, ok := w.Do(ctx, call); !ok {
			return
		}
	}

	if !w.Sleep(ctx, s.Pacer.Next(w.Random())) {
		return
	}

	if w.Random().Float64() < s.CreateProbability {
		if !s.Create.Run(ctx, w) {
			return
		}
	}

	w.Sleep(ctx, s.Pacer.Next(w.Random()))
}
