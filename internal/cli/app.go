package cli

import (
	"io"
	"log/slog"

	"github.com/danielhendel/oli-sub001/internal/derive"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/logging"
	"github.com/danielhendel/oli-sub001/internal/metrics"
	"github.com/danielhendel/oli-sub001/internal/replay"
	"github.com/danielhendel/oli-sub001/internal/store"
)

// app is the pipeline wired over one store.
type app struct {
	store    *store.Store
	failures *failure.Recorder
	builder  *derive.Builder
	reader   *replay.Reader
}

func newApp(s *store.Store, logger *logging.Logger, m *metrics.Manager) *app {
	recorder := failure.NewRecorder(s, failure.WithLogger(logger), failure.WithMetrics(m))
	return &app{
		store:    s,
		failures: recorder,
		builder: derive.NewBuilder(s, derive.SummaryEngine{}, s,
			derive.WithFailureRecorder(recorder),
			derive.WithLogger(logger),
			derive.WithMetrics(m),
		),
		reader: replay.NewReader(s,
			replay.WithFailureRecorder(recorder),
			replay.WithLogger(logger),
			replay.WithMetrics(m),
		),
	}
}

// openApp opens the database for an offline command. Logs go nowhere
// unless verbose is set.
func openApp(opts *RootOptions, errOut io.Writer) (*app, error) {
	s, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger := logging.Discard()
	if opts.Verbose {
		logger = logging.NewWithWriter(errOut, slog.LevelDebug, "text")
	}
	return newApp(s, logger, nil), nil
}

func (a *app) Close() error {
	return a.store.Close()
}
