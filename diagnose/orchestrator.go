package diagnose

import (
	"context"
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/whyrusleeping/plantdoc/plantapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var log = logging.Logger("diagnose")

var runOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plantdoc_diagnosis_outcomes",
	Help: "Count of finished diagnosis runs by outcome",
}, []string{"outcome"})

var runDurationHist = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "plantdoc_diagnosis_duration",
	Help:    "A histogram of full diagnosis run durations in milliseconds",
	Buckets: prometheus.ExponentialBuckets(1, 2, 16),
})

const DefaultDiseaseLabel = "disease"

// Predictor runs a single remote prediction. *plantapi.Client implements it.
type Predictor interface {
	Predict(ctx context.Context, mode plantapi.Mode, img *plantapi.Image) (*plantapi.Result, error)
}

// Step is the resolved outcome of one remote call.
type Step struct {
	Mode   plantapi.Mode
	Result *plantapi.Result
	Err    error
	Took   time.Duration
}

func (s *Step) OK() bool {
	return s != nil && s.Err == nil
}

type Orchestrator struct {
	api          Predictor
	diseaseLabel string

	// OnStep, when set, is called after every step resolves.
	OnStep func(*Step)
}

func NewOrchestrator(api Predictor, diseaseLabel string) *Orchestrator {
	diseaseLabel = strings.TrimSpace(diseaseLabel)
	if diseaseLabel == "" {
		diseaseLabel = DefaultDiseaseLabel
	}
	return &Orchestrator{
		api:          api,
		diseaseLabel: diseaseLabel,
	}
}

func (o *Orchestrator) DiseaseLabel() string {
	return o.diseaseLabel
}

// Predict runs exactly one mode in isolation.
func (o *Orchestrator) Predict(ctx context.Context, mode plantapi.Mode, img *plantapi.Image) (*Step, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return o.call(ctx, mode, img), nil
}

func (o *Orchestrator) call(ctx context.Context, mode plantapi.Mode, img *plantapi.Image) *Step {
	ctx, span := otel.Tracer("diagnose").Start(ctx, "step")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)))

	start := time.Now()
	res, err := o.api.Predict(ctx, mode, img)
	st := &Step{
		Mode:   mode,
		Result: res,
		Err:    err,
		Took:   time.Since(start),
	}
	if err == nil && res == nil {
		st.Result = &plantapi.Result{}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warnf("%s prediction failed: %s", mode, err)
	} else {
		span.SetAttributes(attribute.Int("predictions", len(st.Result.Predictions)))
	}

	if o.OnStep != nil {
		o.OnStep(st)
	}
	return st
}

// Run drives species identification, the health check and, for diseased
// leaves, disease diagnosis. Only invalid input is returned as an error;
// remote failures end the run in the Failed state.
func (o *Orchestrator) Run(ctx context.Context, img *plantapi.Image) (*Report, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("diagnose").Start(ctx, "Run")
	defer span.End()

	start := time.Now()
	rep := &Report{
		Filename: img.Filename,
		ImageKey: img.Key(),
		Started:  start,
		State:    Start,
		Trail:    []State{Start},
	}
	defer func() {
		rep.Took = time.Since(start)
		runDurationHist.Observe(float64(rep.Took.Milliseconds()))
		runOutcomes.WithLabelValues(string(rep.Outcome())).Inc()
		span.SetAttributes(
			attribute.String("state", rep.State.String()),
			attribute.String("outcome", string(rep.Outcome())),
		)
		log.Infof("diagnosis of %s finished: %s (%s)", img.Filename, rep.State, rep.Took)
	}()

	rep.advance(SpeciesPending)
	rep.Species = o.call(ctx, plantapi.ModeSpecies, img)
	switch {
	case !rep.Species.OK():
		rep.fail(rep.Species)
		return rep, nil
	case rep.Species.Result.Empty():
		rep.advance(SpeciesNoMatch)
		return rep, nil
	}
	rep.advance(SpeciesMatched)

	rep.advance(HealthPending)
	rep.Health = o.call(ctx, plantapi.ModeBinary, img)
	if !rep.Health.OK() {
		rep.fail(rep.Health)
		return rep, nil
	}

	rep.Diseased = rep.Health.Result.HasClass(o.diseaseLabel)
	if !rep.Diseased {
		rep.advance(Healthy)
		return rep, nil
	}
	rep.advance(Diseased)

	rep.advance(DiagnosisPending)
	rep.Diagnosis = o.call(ctx, plantapi.ModeDiseases, img)
	switch {
	case !rep.Diagnosis.OK():
		rep.fail(rep.Diagnosis)
	case rep.Diagnosis.Result.Empty():
		rep.advance(NoDiseaseFound)
	default:
		rep.advance(Diagnosed)
	}

	return rep, nil
}

// Report is the full record of one diagnosis run.
type Report struct {
	Filename string
	ImageKey string
	Started  time.Time
	Took     time.Duration

	State State
	Trail []State

	Species   *Step
	Health    *Step
	Diagnosis *Step
	Diseased  bool

	// FailedStep is the mode whose call failed, if any.
	FailedStep plantapi.Mode
	Err        error
}

func (r *Report) advance(to State) {
	if !canTransition(r.State, to) {
		panic(fmt.Sprintf("illegal diagnosis transition %s -> %s", r.State, to))
	}
	r.State = to
	r.Trail = append(r.Trail, to)
}

func (r *Report) fail(st *Step) {
	r.FailedStep = st.Mode
	r.Err = st.Err
	r.advance(Failed)
}

// Partial reports whether the run failed after species and health results
// were already obtained.
func (r *Report) Partial() bool {
	return r.State == Failed && r.FailedStep == plantapi.ModeDiseases
}

func (r *Report) Outcome() Outcome {
	switch r.State {
	case SpeciesNoMatch:
		return OutcomeNoSpecies
	case Healthy:
		return OutcomeHealthy
	case Diagnosed:
		return OutcomeDiagnosed
	case NoDiseaseFound:
		return OutcomeNoDisease
	case Failed:
		if r.Partial() {
			return OutcomePartial
		}
		return OutcomeError
	default:
		return OutcomeError
	}
}

func (r *Report) Message() string {
	switch r.Outcome() {
	case OutcomeNoSpecies:
		return "No species detected: the leaf could not be matched to a supported plant species."
	case OutcomeHealthy:
		return "The plant looks healthy."
	case OutcomeDiagnosed:
		if top, ok := r.Diagnosis.Result.Top(); ok {
			return fmt.Sprintf("Disease identified: %s (%s).", top.ClassName, top.Percent())
		}
		return "Disease identified."
	case OutcomeNoDisease:
		return "Disease detected, but no specific disease identified."
	case OutcomePartial:
		return fmt.Sprintf("Disease detected, but the diagnosis failed: %s", r.Err)
	default:
		if r.Err != nil {
			return fmt.Sprintf("Analysis failed during %s: %s", strings.ToLower(r.FailedStep.Title()), r.Err)
		}
		return "Analysis did not complete."
	}
}

// Steps returns the steps that ran, in order.
func (r *Report) Steps() []*Step {
	var out []*Step
	for _, st := range []*Step{r.Species, r.Health, r.Diagnosis} {
		if st != nil {
			out = append(out, st)
		}
	}
	return out
}

func (r *Report) stepFor(mode plantapi.Mode) *Step {
	for _, st := range r.Steps() {
		if st.Mode == mode {
			return st
		}
	}
	return nil
}

// TopSpecies returns the best species label, or "".
func (r *Report) TopSpecies() string {
	if r.Species.OK() {
		if p, ok := r.Species.Result.Top(); ok {
			return p.ClassName
		}
	}
	return ""
}

// TopDisease returns the best disease label, or "".
func (r *Report) TopDisease() string {
	if r.Diagnosis.OK() {
		if p, ok := r.Diagnosis.Result.Top(); ok {
			return p.ClassName
		}
	}
	return ""
}
