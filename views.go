package main

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/whyrusleeping/plantdoc/diagnose"
	"github.com/whyrusleeping/plantdoc/plantapi"
)

//go:embed templates/*.html
var templateFS embed.FS

type templateRenderer struct {
	t *template.Template
}

func newRenderer() *templateRenderer {
	return &templateRenderer{
		t: template.Must(template.New("").ParseFS(templateFS, "templates/*.html")),
	}
}

func (tr *templateRenderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	return tr.t.ExecuteTemplate(w, name, data)
}

type pageView struct {
	Species      []string
	Diseases     []string
	Modes        []plantapi.Mode
	DiseaseLabel string

	Error    string
	Original *originalView
	Report   *reportView
	Singles  []stepView
}

type originalView struct {
	Filename string
	Image    template.URL
}

type reportView struct {
	Filename string
	State    string
	Outcome  string
	Level    string
	Message  string
	Diseased bool
	Trail    []string
	Steps    []stepView
	TookMs   int64
}

type stepView struct {
	Mode        plantapi.Mode
	Title       string
	Predictions []plantapi.Prediction
	Image       template.URL
	Error       string
	TookMs      int64
}

func (sv stepView) Empty() bool {
	return sv.Error == "" && len(sv.Predictions) == 0
}

func newStepView(st *diagnose.Step) stepView {
	sv := stepView{
		Mode:   st.Mode,
		Title:  st.Mode.Title(),
		TookMs: st.Took.Milliseconds(),
	}
	if st.Err != nil {
		sv.Error = st.Err.Error()
		return sv
	}
	sv.Predictions = st.Result.Predictions
	if u := st.Result.AnnotatedDataURL(); u != "" {
		sv.Image = template.URL(u)
	} else if st.Result.AnnotatedImage != "" {
		log.Warnf("dropping undecodable annotated image from %s prediction", st.Mode)
	}
	return sv
}

func newReportView(rep *diagnose.Report) *reportView {
	if rep == nil {
		return nil
	}

	rv := &reportView{
		Filename: rep.Filename,
		State:    rep.State.String(),
		Outcome:  string(rep.Outcome()),
		Level:    string(rep.Outcome().Level()),
		Message:  rep.Message(),
		Diseased: rep.Diseased,
		TookMs:   rep.Took.Milliseconds(),
	}
	for _, s := range rep.Trail {
		rv.Trail = append(rv.Trail, s.String())
	}
	for _, st := range rep.Steps() {
		rv.Steps = append(rv.Steps, newStepView(st))
	}
	return rv
}

type predictionJSON struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

type stepJSON struct {
	Mode           string           `json:"mode"`
	Predictions    []predictionJSON `json:"predictions"`
	AnnotatedImage string           `json:"annotated_image,omitempty"`
	Error          string           `json:"error,omitempty"`
	TookMs         int64            `json:"took_ms"`
}

type reportJSON struct {
	Filename  string    `json:"filename"`
	State     string    `json:"state"`
	Outcome   string    `json:"outcome"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Diseased  bool      `json:"diseased"`
	Trail     []string  `json:"trail"`
	Species   *stepJSON `json:"species,omitempty"`
	Health    *stepJSON `json:"health,omitempty"`
	Diagnosis *stepJSON `json:"diagnosis,omitempty"`
	TookMs    int64     `json:"took_ms"`
}

func newStepJSON(st *diagnose.Step) *stepJSON {
	if st == nil {
		return nil
	}

	out := &stepJSON{
		Mode:        string(st.Mode),
		Predictions: []predictionJSON{},
		TookMs:      st.Took.Milliseconds(),
	}
	if st.Err != nil {
		out.Error = st.Err.Error()
		return out
	}
	for _, p := range st.Result.Predictions {
		out.Predictions = append(out.Predictions, predictionJSON{ClassName: p.ClassName, Confidence: p.Confidence})
	}
	out.AnnotatedImage = st.Result.AnnotatedImage
	return out
}

func newReportJSON(rep *diagnose.Report) *reportJSON {
	out := &reportJSON{
		Filename:  rep.Filename,
		State:     rep.State.String(),
		Outcome:   string(rep.Outcome()),
		Level:     string(rep.Outcome().Level()),
		Message:   rep.Message(),
		Diseased:  rep.Diseased,
		Species:   newStepJSON(rep.Species),
		Health:    newStepJSON(rep.Health),
		Diagnosis: newStepJSON(rep.Diagnosis),
		TookMs:    rep.Took.Milliseconds(),
	}
	for _, s := range rep.Trail {
		out.Trail = append(out.Trail, s.String())
	}
	return out
}
