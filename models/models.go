package models

import (
	"gorm.io/gorm"
)

// Diagnosis records the outcome of one diagnosis run. Images and raw
// predictions are not stored.
type Diagnosis struct {
	gorm.Model
	Session  string `gorm:"index"`
	Filename string
	ImageKey string `gorm:"index"`

	State    string
	Outcome  string `gorm:"index"`
	Species  string
	Diseased bool
	Disease  string

	FailedStep string
	Error      string
	DurationMs int64
}

// SinglePrediction records an isolated single mode call.
type SinglePrediction struct {
	gorm.Model
	Session  string `gorm:"index"`
	Filename string
	ImageKey string `gorm:"index"`

	Mode       string `gorm:"index"`
	TopClass   string
	Confidence float64
	Count      int
	Error      string
	DurationMs int64
}
