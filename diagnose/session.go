package diagnose

import (
	"context"
	"sync"
	"time"

	"github.com/whyrusleeping/plantdoc/plantapi"
)

// Warmer pings the remote service ahead of the first real request.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Session is the per-visitor state: a fire-once warm-up flag and the results
// for the most recently uploaded image. It holds at most one result per mode,
// either inside the full report or as a single mode step.
type Session struct {
	ID string

	warmOnce sync.Once

	lk       sync.Mutex
	warmed   bool
	image    string
	filename string
	original string
	last     *Report
	single   []*Step
}

func NewSession(id string) *Session {
	return &Session{
		ID: id,
	}
}

// Warm runs the warm-up ping at most once per session, waiting no longer
// than timeout. Failures are ignored. It returns true for the call that
// fired the ping.
func (s *Session) Warm(ctx context.Context, w Warmer, timeout time.Duration) bool {
	fired := false
	s.warmOnce.Do(func() {
		fired = true
		defer func() {
			s.lk.Lock()
			s.warmed = true
			s.lk.Unlock()
		}()

		if w == nil {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := w.Warmup(ctx); err != nil {
			log.Debugf("warmup for session %s failed: %s", s.ID, err)
		}
	})
	return fired
}

func (s *Session) Warmed() bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.warmed
}

// Begin makes img the current image, keeping it for display. Results for a
// previous image are discarded.
func (s *Session) Begin(img *plantapi.Image) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.switchImage(img.Key())
	s.filename = img.Filename
	s.original = img.DataURL()
}

// Original returns the filename and data URL of the current image.
func (s *Session) Original() (string, string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.filename, s.original
}

// SetReport records the report for the current image, superseding single
// mode results for the modes it covers.
func (s *Session) SetReport(r *Report) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.switchImage(r.ImageKey)

	kept := s.single[:0]
	for _, st := range s.single {
		if r.stepFor(st.Mode) == nil {
			kept = append(kept, st)
		}
	}
	s.single = kept
	s.last = r
}

// AddSingle records the result of an isolated single mode call, replacing an
// earlier result of the same mode for the same image. If the current report
// covers that mode, the report is dissolved and its other steps are kept as
// single results.
func (s *Session) AddSingle(imageKey string, st *Step) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.switchImage(imageKey)

	if s.last != nil && s.last.stepFor(st.Mode) != nil {
		for _, prev := range s.last.Steps() {
			if prev.Mode != st.Mode {
				s.single = append(s.single, prev)
			}
		}
		s.last = nil
	}

	for i, prev := range s.single {
		if prev.Mode == st.Mode {
			s.single[i] = st
			return
		}
	}
	s.single = append(s.single, st)
}

func (s *Session) switchImage(key string) {
	if key == s.image {
		return
	}
	s.image = key
	s.filename = ""
	s.original = ""
	s.last = nil
	s.single = nil
}

func (s *Session) Report() *Report {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.last
}

// Singles returns the isolated single mode results for the current image.
func (s *Session) Singles() []*Step {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]*Step(nil), s.single...)
}
