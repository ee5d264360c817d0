// Package trigger delivers run requests from ingestion to the run builder.
//
// Inline builds synchronously in the caller's goroutine. The NATS transport
// publishes requests on a subject and lets a queue group of consumers build
// them, so each request is built once.
package trigger

import (
	"context"
	"fmt"

	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/model"
)

// Modes accepted by configuration.
const (
	ModeInline = "inline"
	ModeNATS   = "nats"
	ModeNone   = "none"
)

// Publisher hands a run request to whatever builds runs.
type Publisher interface {
	Publish(ctx context.Context, req model.RunRequest) error
}

// Builder builds one run. *derive.Builder satisfies it.
type Builder interface {
	Build(ctx context.Context, req model.RunRequest) (model.DerivedRun, error)
}

// Inline builds the run before Publish returns.
type Inline struct {
	builder Builder
	logger  *logging.Logger
}

// NewInline returns an Inline publisher. A nil logger discards.
func NewInline(b Builder, logger *logging.Logger) *Inline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Inline{builder: b, logger: logger}
}

func (p *Inline) Publish(ctx context.Context, req model.RunRequest) error {
	run, err := p.builder.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("build run: %w", err)
	}
	p.logger.DebugContext(ctx, "run built inline",
		logging.UserID(run.UserID),
		logging.Day(run.Day),
		logging.RunID(run.RunID),
	)
	return nil
}

// Discard drops every request. Used when trigger_mode is none.
type Discard struct{}

func (Discard) Publish(context.Context, model.RunRequest) error { return nil }
