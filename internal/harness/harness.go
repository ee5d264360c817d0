package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielhendel/oli-sub001/internal/derive"
	"github.com/danielhendel/oli-sub001/internal/failure"
	"github.com/danielhendel/oli-sub001/internal/ingest"
	"github.com/danielhendel/oli-sub001/internal/model"
	"github.com/danielhendel/oli-sub001/internal/normalize"
	"github.com/danielhendel/oli-sub001/internal/replay"
	"github.com/danielhendel/oli-sub001/internal/store"
	"github.com/danielhendel/oli-sub001/internal/testutil"
)

// Error codes for failures that carry no code of their own.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// Harness is one scenario's pipeline over a fresh database.
type Harness struct {
	store   *store.Store
	ingest  *ingest.Service
	builder *derive.Builder
	reader  *replay.Reader
}

// Result is the outcome of a scenario.
type Result struct {
	Pass   bool
	Lines  []string
	Errors []string
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Transcript is one line per step, newline terminated.
func (r *Result) Transcript() []byte {
	var buf bytes.Buffer
	for _, line := range r.Lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Run executes sc against a new database created in dir.
//
// Expect and assertion mismatches are reported in Result.Errors. The
// returned error is reserved for setup problems.
func Run(ctx context.Context, sc *Scenario, dir string) (*Result, error) {
	s, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	for _, src := range sc.Sources {
		if err := s.CreateSource(ctx, src); err != nil {
			return nil, fmt.Errorf("create source %s/%s: %w", src.UserID, src.ID, err)
		}
	}

	h, err := newHarness(s, sc.Start)
	if err != nil {
		return nil, err
	}

	result := &Result{Pass: true}
	for i, st := range sc.Steps {
		line, err := h.execute(ctx, st, result, i)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		result.Lines = append(result.Lines, line)
	}
	for i, a := range sc.Assertions {
		if err := h.check(ctx, a); err != nil {
			result.fail("assertions[%d] %s: %v", i, a.Type, err)
		}
	}
	return result, nil
}

func newHarness(s *store.Store, start time.Time) (*Harness, error) {
	clock := testutil.NewSteppingClock(start, time.Second)
	recorder := failure.NewRecorder(s, failure.WithClock(clock.Now))

	schemas, err := ingest.LoadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return &Harness{
		store: s,
		ingest: ingest.NewService(s, s, schemas,
			ingest.WithNormalizer(normalize.New(s, clock.Now)),
			ingest.WithFailureRecorder(recorder),
			ingest.WithClock(clock.Now),
		),
		builder: derive.NewBuilder(s, derive.SummaryEngine{}, s,
			derive.WithIDGenerator(testutil.NewSequenceIDs("run")),
			derive.WithClock(clock.Now),
			derive.WithFailureRecorder(recorder),
		),
		reader: replay.NewReader(s, replay.WithFailureRecorder(recorder)),
	}, nil
}

// outcome is what a step produced, compared with its expect clause.
type outcome struct {
	code      string
	day       string
	replayed  bool
	run       string
	inputs    int
	latest    bool
	artifacts map[string]json.RawMessage
}

func (h *Harness) execute(ctx context.Context, st Step, result *Result, index int) (string, error) {
	var (
		out  outcome
		line string
		err  error
	)
	switch st.Op {
	case OpIngest:
		out, err = h.doIngest(ctx, st)
		line = fmt.Sprintf("ingest user=%s key=%s", st.User, st.Key)
		if err == nil && out.code == "" {
			line += " day=" + out.day
			if out.replayed {
				line += " replayed"
			}
		}
	case OpBuild:
		out, err = h.doBuild(ctx, st)
		line = fmt.Sprintf("build user=%s day=%s", st.User, st.Day)
		if err == nil && out.code == "" {
			line += fmt.Sprintf(" run=%s inputs=%d", out.run, out.inputs)
		}
	case OpReplay:
		out, err = h.doReplay(ctx, st)
		line = fmt.Sprintf("replay user=%s day=%s", st.User, st.Day)
		if err == nil && out.code == "" {
			line += fmt.Sprintf(" run=%s latest=%t artifacts=%d", out.run, out.latest, len(out.artifacts))
		}
	case OpExplain:
		out, err = h.doExplain(ctx, st)
		line = fmt.Sprintf("explain user=%s day=%s", st.User, st.Day)
		if err == nil && out.code == "" {
			line += fmt.Sprintf(" run=%s latest=%t inputs=%d", out.run, out.latest, out.inputs)
		}
	case OpTamper:
		err = h.doTamper(ctx, st)
		line = fmt.Sprintf("tamper run=%s doc=%s", st.Run, st.Doc)
	default:
		return "", fmt.Errorf("unknown op %q", st.Op)
	}
	if err != nil {
		return "", err
	}
	if out.code != "" {
		line += " error=" + out.code
	}
	checkExpect(result, index, st, out)
	return line, nil
}

func (h *Harness) doIngest(ctx context.Context, st Step) (outcome, error) {
	body, err := json.Marshal(st.Event)
	if err != nil {
		return outcome{}, fmt.Errorf("encode event: %w", err)
	}
	req, err := ingest.DecodeRequest(bytes.NewReader(body))
	if err == nil {
		var resp ingest.Response
		resp, err = h.ingest.Ingest(ctx, st.User, st.Key, req)
		if err == nil {
			return outcome{day: resp.Day, replayed: resp.IdempotentReplay}, nil
		}
	}
	return codeOf(err)
}

func (h *Harness) doBuild(ctx context.Context, st Step) (outcome, error) {
	run, err := h.builder.Build(ctx, model.RunRequest{
		UserID:  st.User,
		Day:     st.Day,
		Trigger: model.Trigger{Type: model.TriggerManual},
	})
	if err != nil {
		return codeOf(err)
	}
	return outcome{run: run.RunID, inputs: len(run.CanonicalEventIDs), latest: true}, nil
}

func (h *Harness) doReplay(ctx context.Context, st Step) (outcome, error) {
	res, err := h.reader.Replay(ctx, st.User, st.Day, st.Run)
	if err != nil {
		return codeOf(err)
	}
	out := outcome{
		run:       res.Run.RunID,
		inputs:    len(res.Run.CanonicalEventIDs),
		latest:    res.IsLatest,
		artifacts: make(map[string]json.RawMessage, len(res.Artifacts)),
	}
	for _, a := range res.Artifacts {
		out.artifacts[a.DocID] = a.Data
	}
	return out, nil
}

func (h *Harness) doExplain(ctx context.Context, st Step) (outcome, error) {
	exp, err := h.reader.Explain(ctx, st.User, st.Day, st.Run)
	if err != nil {
		return codeOf(err)
	}
	return outcome{run: exp.RunID, inputs: len(exp.CanonicalEventIDs), latest: exp.IsLatest}, nil
}

// doTamper overwrites a stored snapshot body, leaving its recorded hash.
func (h *Harness) doTamper(ctx context.Context, st Step) error {
	res, err := h.store.DB().ExecContext(ctx,
		`UPDATE snapshots SET data = ? WHERE run_id = ? AND doc_id = ?`,
		`{"tampered":true}`, st.Run, st.Doc)
	if err != nil {
		return fmt.Errorf("tamper: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("tamper: no snapshot %s/%s", st.Run, st.Doc)
	}
	return nil
}

// codeOf turns a pipeline error into an outcome code. Errors without a
// known code abort the scenario.
func codeOf(err error) (outcome, error) {
	var (
		ve *ingest.ValidationError
		ie *replay.IntegrityError
	)
	switch {
	case errors.As(err, &ve):
		return outcome{code: ve.Code}, nil
	case errors.As(err, &ie):
		return outcome{code: string(ie.Code)}, nil
	case errors.Is(err, replay.ErrForbidden):
		return outcome{code: CodeForbidden}, nil
	case errors.Is(err, replay.ErrNotFound):
		return outcome{code: CodeNotFound}, nil
	case errors.Is(err, derive.ErrInvalidRequest):
		return outcome{code: CodeInvalidRequest}, nil
	default:
		return outcome{}, err
	}
}

func checkExpect(result *Result, index int, st Step, out outcome) {
	at := fmt.Sprintf("steps[%d] %s", index, st.Op)
	exp := st.Expect
	if exp == nil {
		if out.code != "" {
			result.fail("%s: unexpected error %s", at, out.code)
		}
		return
	}
	if exp.Error != out.code {
		result.fail("%s: error: expected %q, got %q", at, exp.Error, out.code)
		return
	}
	if exp.Day != "" && exp.Day != out.day {
		result.fail("%s: day: expected %s, got %s", at, exp.Day, out.day)
	}
	if exp.Replayed != nil && *exp.Replayed != out.replayed {
		result.fail("%s: replayed: expected %t, got %t", at, *exp.Replayed, out.replayed)
	}
	if exp.Run != "" && exp.Run != out.run {
		result.fail("%s: run: expected %s, got %s", at, exp.Run, out.run)
	}
	if exp.Inputs != nil && *exp.Inputs != out.inputs {
		result.fail("%s: inputs: expected %d, got %d", at, *exp.Inputs, out.inputs)
	}
	if exp.Latest != nil && *exp.Latest != out.latest {
		result.fail("%s: latest: expected %t, got %t", at, *exp.Latest, out.latest)
	}
	for doc, want := range exp.Artifacts {
		data, ok := out.artifacts[doc]
		if !ok {
			result.fail("%s: artifact %s not replayed", at, doc)
			continue
		}
		if diff := matchDocument(data, want); diff != "" {
			result.fail("%s: artifact %s: %s", at, doc, diff)
		}
	}
}

// String renders a failed result for test output.
func (r *Result) String() string {
	if r.Pass {
		return "pass"
	}
	return "FAIL\n  " + strings.Join(r.Errors, "\n  ")
}
