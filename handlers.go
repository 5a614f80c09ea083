package main

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/whyrusleeping/plantdoc/diagnose"
	"github.com/whyrusleeping/plantdoc/plantapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func (s *Server) page(sess *diagnose.Session) *pageView {
	pv := &pageView{
		Species:      plantapi.SupportedSpecies,
		Diseases:     plantapi.KnownDiseases,
		Modes:        plantapi.Modes,
		DiseaseLabel: s.orch.DiseaseLabel(),
		Report:       newReportView(sess.Report()),
	}
	if fname, u := sess.Original(); strings.HasPrefix(u, "data:image/") {
		pv.Original = &originalView{
			Filename: fname,
			Image:    template.URL(u),
		}
	}
	for _, st := range sess.Singles() {
		pv.Singles = append(pv.Singles, newStepView(st))
	}
	return pv
}

func (s *Server) handleIndex(e echo.Context) error {
	ctx, span := otel.Tracer("plantdoc").Start(e.Request().Context(), "handleIndex")
	defer span.End()

	sess := s.sessions.Get(e)
	if sess.Warm(ctx, s.warmer, s.warmupTimeout) {
		span.SetAttributes(attribute.Bool("warmup", true))
	}

	return e.Render(http.StatusOK, "index.html", s.page(sess))
}

// readUpload pulls the "file" form field into an Image.
func readUpload(e echo.Context) (*plantapi.Image, error) {
	fh, err := e.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("no file uploaded: %w", plantapi.ErrEmptyImage)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}

	img := plantapi.NewImage(fh.Filename, fh.Header.Get("Content-Type"), data)
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

func isInputError(err error) bool {
	return errors.Is(err, plantapi.ErrEmptyImage) || errors.Is(err, plantapi.ErrUnsupportedType)
}

func (s *Server) renderUploadError(e echo.Context, sess *diagnose.Session, err error) error {
	pv := s.page(sess)
	pv.Error = err.Error()
	return e.Render(http.StatusBadRequest, "index.html", pv)
}

func (s *Server) handleDiagnose(e echo.Context) error {
	ctx, span := otel.Tracer("plantdoc").Start(e.Request().Context(), "handleDiagnose")
	defer span.End()

	sess := s.sessions.Get(e)
	img, err := readUpload(e)
	if err != nil {
		return s.renderUploadError(e, sess, err)
	}
	sess.Begin(img)

	rep, err := s.orch.Run(ctx, img)
	if err != nil {
		return s.renderUploadError(e, sess, err)
	}
	span.SetAttributes(attribute.String("outcome", string(rep.Outcome())))

	sess.SetReport(rep)
	if err := s.history.RecordReport(ctx, sess.ID, rep); err != nil {
		log.Errorf("failed to record diagnosis: %s", err)
	}

	return e.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handlePredict(e echo.Context) error {
	ctx, span := otel.Tracer("plantdoc").Start(e.Request().Context(), "handlePredict")
	defer span.End()

	mode, err := plantapi.ParseMode(e.Param("mode"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	span.SetAttributes(attribute.String("mode", string(mode)))

	sess := s.sessions.Get(e)
	img, err := readUpload(e)
	if err != nil {
		return s.renderUploadError(e, sess, err)
	}
	sess.Begin(img)

	st, err := s.orch.Predict(ctx, mode, img)
	if err != nil {
		return s.renderUploadError(e, sess, err)
	}

	sess.AddSingle(img.Key(), st)
	if err := s.history.RecordSingle(ctx, sess.ID, img.Filename, img.Key(), st); err != nil {
		log.Errorf("failed to record prediction: %s", err)
	}

	return e.Redirect(http.StatusSeeOther, "/")
}

func (s *Server) handleApiDiagnose(e echo.Context) error {
	ctx, span := otel.Tracer("plantdoc").Start(e.Request().Context(), "handleApiDiagnose")
	defer span.End()

	img, err := readUpload(e)
	if err != nil {
		if isInputError(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	sess := s.sessions.Get(e)
	sess.Begin(img)
	rep, err := s.orch.Run(ctx, img)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess.SetReport(rep)
	if err := s.history.RecordReport(ctx, sess.ID, rep); err != nil {
		log.Errorf("failed to record diagnosis: %s", err)
	}

	return e.JSON(http.StatusOK, newReportJSON(rep))
}

func (s *Server) handleApiPredict(e echo.Context) error {
	ctx, span := otel.Tracer("plantdoc").Start(e.Request().Context(), "handleApiPredict")
	defer span.End()

	mode, err := plantapi.ParseMode(e.Param("mode"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	img, err := readUpload(e)
	if err != nil {
		if isInputError(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	sess := s.sessions.Get(e)
	sess.Begin(img)
	st, err := s.orch.Predict(ctx, mode, img)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess.AddSingle(img.Key(), st)
	if err := s.history.RecordSingle(ctx, sess.ID, img.Filename, img.Key(), st); err != nil {
		log.Errorf("failed to record prediction: %s", err)
	}

	if st.Err != nil {
		return e.JSON(http.StatusBadGateway, newStepJSON(st))
	}
	return e.JSON(http.StatusOK, newStepJSON(st))
}

func (s *Server) handleApiHistory(e echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history is not enabled")
	}

	limit := 50
	if lims := e.QueryParam("limit"); lims != "" {
		v, err := strconv.Atoi(lims)
		if err != nil || v <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = min(v, 500)
	}

	rows, err := s.history.Recent(e.Request().Context(), limit)
	if err != nil {
		return err
	}
	return e.JSON(http.StatusOK, rows)
}

func (s *Server) handleHealth(e echo.Context) error {
	return e.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
