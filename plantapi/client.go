package plantapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	logging "github.com/ipfs/go-log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var log = logging.Logger("plantapi")

var predictRequestsHist = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "plantapi_predict_durations",
	Help:    "A histogram of remote prediction call durations in milliseconds",
	Buckets: prometheus.ExponentialBuckets(1, 2, 16),
}, []string{"mode", "status"})

// DefaultHost is the public PlantDoc inference API.
const DefaultHost = "https://plantdoc-api-645106012666.europe-west1.run.app"

// Mode selects one of the remote prediction endpoints.
type Mode string

const (
	ModeBinary   Mode = "binary"
	ModeSpecies  Mode = "species"
	ModeDiseases Mode = "diseases"
)

var Modes = []Mode{ModeBinary, ModeSpecies, ModeDiseases}

func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown prediction mode %q", s)
}

func (m Mode) Path() string {
	return "/predict/" + string(m)
}

func (m Mode) Title() string {
	switch m {
	case ModeBinary:
		return "Healthy or diseased"
	case ModeSpecies:
		return "Species identification"
	case ModeDiseases:
		return "Disease diagnosis"
	default:
		return string(m)
	}
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Mode Mode
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("predict %s: unexpected status code %d", e.Mode, e.Code)
	}
	return fmt.Sprintf("predict %s: unexpected status code %d: %s", e.Mode, e.Code, e.Body)
}

const maxErrorBody = 512

type Client struct {
	Host string
	HTTP *http.Client
}

func NewClient(host string) *Client {
	return &Client{
		Host: strings.TrimRight(host, "/"),
		HTTP: http.DefaultClient,
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Predict uploads img to the endpoint for mode and decodes the result.
func (c *Client) Predict(ctx context.Context, mode Mode, img *Image) (*Result, error) {
	ctx, span := otel.Tracer("plantapi").Start(ctx, "Predict")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)), attribute.Int("size", len(img.Data)))

	start := time.Now()
	status := "error"
	defer func() {
		predictRequestsHist.WithLabelValues(string(mode), status).Observe(float64(time.Since(start).Milliseconds()))
	}()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	part, err := writer.CreatePart(fileHeader(img))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, img.Reader()); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.Host+mode.Path(), &buffer)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", mode, err)
	}
	defer res.Body.Close()

	status = fmt.Sprint(res.StatusCode)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &StatusError{Mode: mode, Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("predict %s: decoding response: %w", mode, err)
	}

	log.Debugf("predict %s: %d predictions in %s", mode, len(out.Predictions), time.Since(start))
	return &out, nil
}

// Warmup pings the API root so a cold instance starts spinning up.
func (c *Client) Warmup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.Host+"/", nil)
	if err != nil {
		return err
	}

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.StatusCode >= 300 {
		return fmt.Errorf("warmup: unexpected status code %d", res.StatusCode)
	}
	return nil
}

func fileHeader(img *Image) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(img.Filename)))
	h.Set("Content-Type", img.ContentType)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
