package diagnose

type State int

const (
	Start State = iota
	SpeciesPending
	SpeciesNoMatch
	SpeciesMatched
	HealthPending
	Healthy
	Diseased
	DiagnosisPending
	Diagnosed
	NoDiseaseFound
	Failed
)

var stateNames = map[State]string{
	Start:            "start",
	SpeciesPending:   "species_pending",
	SpeciesNoMatch:   "species_no_match",
	SpeciesMatched:   "species_matched",
	HealthPending:    "health_pending",
	Healthy:          "healthy",
	Diseased:         "diseased",
	DiagnosisPending: "diagnosis_pending",
	Diagnosed:        "diagnosed",
	NoDiseaseFound:   "no_disease_found",
	Failed:           "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) Terminal() bool {
	switch s {
	case SpeciesNoMatch, Healthy, Diagnosed, NoDiseaseFound, Failed:
		return true
	default:
		return false
	}
}

// transitions lists the legal successors of each non-terminal state.
var transitions = map[State][]State{
	Start:            {SpeciesPending},
	SpeciesPending:   {SpeciesNoMatch, SpeciesMatched, Failed},
	SpeciesMatched:   {HealthPending},
	HealthPending:    {Healthy, Diseased, Failed},
	Diseased:         {DiagnosisPending},
	DiagnosisPending: {Diagnosed, NoDiseaseFound, Failed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outcome is the user facing classification of a finished run.
type Outcome string

const (
	OutcomeNoSpecies Outcome = "no_species"
	OutcomeHealthy   Outcome = "healthy"
	OutcomeDiagnosed Outcome = "diagnosed"
	OutcomeNoDisease Outcome = "no_disease"
	OutcomePartial   Outcome = "partial"
	OutcomeError     Outcome = "error"
)

// Level says how an outcome should be presented.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (o Outcome) Level() Level {
	switch o {
	case OutcomeHealthy, OutcomeDiagnosed:
		return LevelSuccess
	case OutcomeNoDisease:
		return LevelInfo
	case OutcomeNoSpecies, OutcomePartial:
		return LevelWarning
	default:
		return LevelError
	}
}
