package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"time"

	logging "github.com/ipfs/go-log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/whyrusleeping/plantdoc/diagnose"
	"github.com/whyrusleeping/plantdoc/plantapi"
	"golang.org/x/crypto/acme/autocert"

	cli "github.com/urfave/cli/v2"
)

var log = logging.Logger("plantdoc")

func main() {
	app := cli.NewApp()
	app.Name = "plantdoc"
	app.Usage = "leaf photo diagnosis front end for the PlantDoc inference API"

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Value:   "info",
			EnvVars: []string{"PLANTDOC_LOG_LEVEL"},
		},
	}
	app.Before = func(cctx *cli.Context) error {
		return logging.SetLogLevel("*", cctx.String("log-level"))
	}
	app.Commands = []*cli.Command{
		runCmd,
		diagnoseCmd,
	}

	app.RunAndExitOnError()
}

var apiFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "api-url",
		Value:   plantapi.DefaultHost,
		EnvVars: []string{"PLANTDOC_API_URL"},
	},
	&cli.StringFlag{
		Name:    "disease-label",
		Usage:   "class name from the binary endpoint that marks a leaf as diseased",
		Value:   diagnose.DefaultDiseaseLabel,
		EnvVars: []string{"PLANTDOC_DISEASE_LABEL"},
	},
}

type Server struct {
	orch     *diagnose.Orchestrator
	warmer   diagnose.Warmer
	sessions *SessionStore
	history  *History

	warmupTimeout time.Duration
	maxUpload     string
}

// checkUploadLimit validates a size like "10M" before it reaches
// middleware.BodyLimit, which panics on malformed values.
func checkUploadLimit(limit string) error {
	n, err := bytes.Parse(limit)
	if err != nil {
		return fmt.Errorf("invalid max upload size %q: %w", limit, err)
	}
	if n <= 0 {
		return fmt.Errorf("invalid max upload size %q: must be positive", limit)
	}
	return nil
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Renderer = newRenderer()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(s.maxUpload))
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if code >= 500 {
			log.Error(err)
		}
		if c.Response().Committed {
			return
		}
		c.JSON(code, map[string]any{
			"error": msg,
		})
	}

	e.GET("/", s.handleIndex)
	e.POST("/diagnose", s.handleDiagnose)
	e.POST("/predict/:mode", s.handlePredict)
	e.GET("/health", s.handleHealth)

	api := e.Group("/api", middleware.CORS())
	api.POST("/diagnose", s.handleApiDiagnose)
	api.POST("/predict/:mode", s.handleApiPredict)
	api.GET("/history", s.handleApiHistory)

	return e
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "serve the upload page and JSON api",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Value:   ":3339",
			EnvVars: []string{"PLANTDOC_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Value:   ":5252",
			EnvVars: []string{"PLANTDOC_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "warmup-timeout",
			Value:   5 * time.Second,
			EnvVars: []string{"PLANTDOC_WARMUP_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "max-upload",
			Value:   "10M",
			EnvVars: []string{"PLANTDOC_MAX_UPLOAD"},
		},
		&cli.IntFlag{
			Name:    "session-cache-size",
			Value:   10000,
			EnvVars: []string{"PLANTDOC_SESSION_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "sqlite:// or postgres:// url for the diagnosis history, disabled when empty",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name: "auto-tls-domain",
		},
	}, apiFlags...),
	Action: func(cctx *cli.Context) error {
		if err := checkUploadLimit(cctx.String("max-upload")); err != nil {
			return err
		}

		client := plantapi.NewClient(cctx.String("api-url"))

		sessions, err := NewSessionStore(cctx.Int("session-cache-size"))
		if err != nil {
			return err
		}

		s := &Server{
			orch:          diagnose.NewOrchestrator(client, cctx.String("disease-label")),
			warmer:        client,
			sessions:      sessions,
			warmupTimeout: cctx.Duration("warmup-timeout"),
			maxUpload:     cctx.String("max-upload"),
		}

		if dburl := cctx.String("database-url"); dburl != "" {
			log.Info("Connecting to database")
			db, err := setupDatabase(dburl, 40)
			if err != nil {
				return err
			}

			log.Info("Migrating database")
			h, err := NewHistory(db)
			if err != nil {
				return err
			}
			s.history = h
		}

		log.Infof("Configuring HTTP server")
		e := s.newEcho()

		atd := cctx.String("auto-tls-domain")
		if atd != "" {
			cachedir, err := os.UserCacheDir()
			if err != nil {
				return err
			}

			e.AutoTLSManager.HostPolicy = autocert.HostWhitelist(atd)
			// Cache certificates to avoid issues with rate limits (https://letsencrypt.org/docs/rate-limits)
			e.AutoTLSManager.Cache = autocert.DirCache(filepath.Join(cachedir, "certs"))
		}

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cctx.String("metrics-listen"), nil); err != nil {
				log.Errorf("metrics listener failed: %s", err)
			}
		}()

		log.Infof("Serving on %s, inference api at %s", cctx.String("listen"), cctx.String("api-url"))
		if atd != "" {
			return e.StartAutoTLS(cctx.String("listen"))
		}
		return e.Start(cctx.String("listen"))
	},
}

var diagnoseCmd = &cli.Command{
	Name:      "diagnose",
	Usage:     "run the full diagnosis on a local jpeg or png",
	ArgsUsage: "<image>",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "warmup",
			Usage: "ping the api before the first request",
		},
		&cli.DurationFlag{
			Name:  "warmup-timeout",
			Value: 5 * time.Second,
		},
	}, apiFlags...),
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() != 1 {
			return fmt.Errorf("expected exactly one image path")
		}
		fname := cctx.Args().First()

		data, err := os.ReadFile(fname)
		if err != nil {
			return err
		}
		img := plantapi.NewImage(fname, mime.TypeByExtension(strings.ToLower(filepath.Ext(fname))), data)

		client := plantapi.NewClient(cctx.String("api-url"))
		ctx := context.TODO()

		if cctx.Bool("warmup") {
			diagnose.NewSession("cli").Warm(ctx, client, cctx.Duration("warmup-timeout"))
		}

		orch := diagnose.NewOrchestrator(client, cctx.String("disease-label"))
		orch.OnStep = func(st *diagnose.Step) {
			printStep(os.Stdout, st)
		}

		rep, err := orch.Run(ctx, img)
		if err != nil {
			return err
		}

		fmt.Printf("\n[%s] %s\n", rep.Outcome().Level(), rep.Message())
		return nil
	},
}
