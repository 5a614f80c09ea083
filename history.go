package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/whyrusleeping/plantdoc/diagnose"
	"github.com/whyrusleeping/plantdoc/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupDatabase opens a sqlite:// or postgres:// database url.
func setupDatabase(dburl string, maxConnections int) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		dial = sqlite.Open(strings.TrimPrefix(dburl, "sqlite://"))
	case strings.HasPrefix(dburl, "postgres://"), strings.HasPrefix(dburl, "postgresql://"):
		dial = postgres.Open(dburl)
	default:
		return nil, fmt.Errorf("unsupported database url %q (expected sqlite:// or postgres://)", dburl)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxIdleConns(80)
	sqldb.SetMaxOpenConns(maxConnections)

	return db, nil
}

type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) (*History, error) {
	if err := db.AutoMigrate(&models.Diagnosis{}, &models.SinglePrediction{}); err != nil {
		return nil, fmt.Errorf("migrating history tables: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) RecordReport(ctx context.Context, session string, rep *diagnose.Report) error {
	if h == nil {
		return nil
	}

	row := &models.Diagnosis{
		Session:    session,
		Filename:   rep.Filename,
		ImageKey:   rep.ImageKey,
		State:      rep.State.String(),
		Outcome:    string(rep.Outcome()),
		Species:    rep.TopSpecies(),
		Diseased:   rep.Diseased,
		Disease:    rep.TopDisease(),
		FailedStep: string(rep.FailedStep),
		DurationMs: rep.Took.Milliseconds(),
	}
	if rep.Err != nil {
		row.Error = rep.Err.Error()
	}

	return h.db.WithContext(ctx).Create(row).Error
}

func (h *History) RecordSingle(ctx context.Context, session, filename, imageKey string, st *diagnose.Step) error {
	if h == nil {
		return nil
	}

	row := &models.SinglePrediction{
		Session:    session,
		Filename:   filename,
		ImageKey:   imageKey,
		Mode:       string(st.Mode),
		DurationMs: st.Took.Milliseconds(),
	}
	if st.Err != nil {
		row.Error = st.Err.Error()
	} else {
		row.Count = len(st.Result.Predictions)
		if top, ok := st.Result.Top(); ok {
			row.TopClass = top.ClassName
			row.Confidence = top.Confidence
		}
	}

	return h.db.WithContext(ctx).Create(row).Error
}

func (h *History) Recent(ctx context.Context, limit int) ([]models.Diagnosis, error) {
	var out []models.Diagnosis
	if err := h.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
