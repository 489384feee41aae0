package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/shenshouer/ai-api/internal/platform/pipeline"
	"github.com/shenshouer/ai-api/internal/platform/telemetry"
)

// DefaultTimeout is the request ceiling when none is configured.
const DefaultTimeout = pipeline.DefaultTimeout

// Options carries what the pipeline and router are built from.
type Options struct {
	Title     string
	Version   string
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
	Timeout   time.Duration
	// RedactHeaders overrides redact.DefaultHeaders when set.
	RedactHeaders []string
}

// NewPipeline returns the service pipeline for opts.
func NewPipeline(opts Options) pipeline.Pipeline {
	return pipeline.New(pipeline.Options{
		Logger:        opts.Logger,
		Telemetry:     opts.Telemetry,
		Timeout:       opts.Timeout,
		RedactHeaders: opts.RedactHeaders,
	})
}
