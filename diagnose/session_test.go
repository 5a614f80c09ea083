package diagnose

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/whyrusleeping/plantdoc/plantapi"
)

type countingWarmer struct {
	calls int
	err   error
	block bool
}

func (w *countingWarmer) Warmup(ctx context.Context) error {
	w.calls++
	if w.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return w.err
}

func TestWarmFiresOnceEvenOnFailure(t *testing.T) {
	s := NewSession("abc")
	w := &countingWarmer{err: errors.New("cold start")}

	if s.Warmed() {
		t.Fatal("new session should not be warmed")
	}
	if !s.Warm(context.Background(), w, time.Second) {
		t.Fatal("first call should fire the warmup")
	}
	if s.Warm(context.Background(), w, time.Second) {
		t.Fatal("second call should not fire the warmup")
	}
	if w.calls != 1 || !s.Warmed() {
		t.Fatalf("expected exactly one warmup call, got %d", w.calls)
	}
}

func TestWarmIsBounded(t *testing.T) {
	s := NewSession("abc")
	w := &countingWarmer{block: true}

	start := time.Now()
	s.Warm(context.Background(), w, 20*time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatal("warmup wait was not bounded")
	}
	if !s.Warmed() {
		t.Fatal("timed out warmup should still mark the session warmed")
	}
}

func TestSessionDiscardsResultsForNewImage(t *testing.T) {
	s := NewSession("abc")

	s.AddSingle("img1", &Step{Mode: plantapi.ModeBinary})
	s.AddSingle("img1", &Step{Mode: plantapi.ModeSpecies})
	s.AddSingle("img1", &Step{Mode: plantapi.ModeBinary, Took: time.Second})

	singles := s.Singles()
	if len(singles) != 2 {
		t.Fatalf("expected one step per mode, got %d", len(singles))
	}
	if singles[0].Took != time.Second {
		t.Fatal("repeat call should replace the earlier step of that mode")
	}

	s.SetReport(&Report{ImageKey: "img2", State: Healthy})
	if len(s.Singles()) != 0 {
		t.Fatal("results for a previous image must not be shown")
	}
	if s.Report() == nil {
		t.Fatal("expected report")
	}

	s.AddSingle("img3", &Step{Mode: plantapi.ModeDiseases})
	if s.Report() != nil {
		t.Fatal("report for a previous image must not be shown")
	}
}

func modesOf(steps []*Step) []plantapi.Mode {
	var out []plantapi.Mode
	for _, st := range steps {
		out = append(out, st.Mode)
	}
	return out
}

func TestSessionReportSupersedesSingles(t *testing.T) {
	s := NewSession("abc")

	s.AddSingle("img1", &Step{Mode: plantapi.ModeSpecies})
	s.AddSingle("img1", &Step{Mode: plantapi.ModeDiseases})

	s.SetReport(&Report{
		ImageKey: "img1",
		Species:  &Step{Mode: plantapi.ModeSpecies},
		Health:   &Step{Mode: plantapi.ModeBinary},
	})

	singles := s.Singles()
	if len(singles) != 1 || singles[0].Mode != plantapi.ModeDiseases {
		t.Fatalf("expected only the disease step to remain, got %v", modesOf(singles))
	}
}

func TestSessionSingleDissolvesReport(t *testing.T) {
	s := NewSession("abc")

	rep := &Report{
		ImageKey: "img1",
		Species:  &Step{Mode: plantapi.ModeSpecies},
		Health:   &Step{Mode: plantapi.ModeBinary},
	}
	s.SetReport(rep)

	again := &Step{Mode: plantapi.ModeSpecies, Took: time.Second}
	s.AddSingle("img1", again)

	if s.Report() != nil {
		t.Fatal("report should be dropped once one of its modes is rerun")
	}
	singles := s.Singles()
	if len(singles) != 2 {
		t.Fatalf("expected one step per mode, got %v", modesOf(singles))
	}
	if singles[0] != rep.Health || singles[1] != again {
		t.Fatalf("unexpected steps %v", modesOf(singles))
	}

	// A mode the report did not cover leaves it alone.
	s.SetReport(rep)
	s.AddSingle("img1", &Step{Mode: plantapi.ModeDiseases})
	if s.Report() != rep {
		t.Fatal("report should survive an unrelated single mode result")
	}
	if got := modesOf(s.Singles()); len(got) != 1 || got[0] != plantapi.ModeDiseases {
		t.Fatalf("unexpected singles %v", got)
	}
}

func TestSessionKeepsOriginalImage(t *testing.T) {
	s := NewSession("abc")
	img := plantapi.NewImage("leaf.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))

	s.Begin(img)
	s.AddSingle(img.Key(), &Step{Mode: plantapi.ModeBinary})

	name, u := s.Original()
	if name != "leaf.png" || u != img.DataURL() {
		t.Fatalf("unexpected original %q %q", name, u)
	}

	s.Begin(img)
	if len(s.Singles()) != 1 {
		t.Fatal("same image should keep its results")
	}

	other := plantapi.NewImage("other.png", "image/png", []byte("\x89PNG\r\n\x1a\nxx"))
	s.Begin(other)
	if name, _ := s.Original(); name != "other.png" || len(s.Singles()) != 0 {
		t.Fatalf("new image should replace the original, got %q", name)
	}
}
