package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sdpdash/events"
	"sdpdash/gateway"
	"sdpdash/logging"
	"sdpdash/toast"
)

// Deps are the collaborators shared by every page.
type Deps struct {
	Gateway Gateway
	Toasts  Toaster
	History History // optional
	Logger  *zap.Logger
}

func (d Deps) withDefaults() Deps {
	d.Logger = logging.OrNop(d.Logger)
	if d.Toasts == nil {
		d.Toasts = nopToaster{}
	}
	return d
}

type nopToaster struct{}

func (nopToaster) Success(msg string) toast.Toast {
	return toast.Toast{Type: toast.Success, Message: msg}
}

func (nopToaster) Error(msg string) toast.Toast {
	return toast.Toast{Type: toast.Error, Message: msg}
}

var nextSteps = map[Kind]*NextStep{
	Generate: {Label: "Next: Process Excel", Route: "/process"},
	Process:  {Label: "Upload CSV", Route: "/upload"},
	Upload:   {Label: "View Report", Route: "/report"},
}

var failureLabels = map[Kind]string{
	Generate: "Generation failed",
	Process:  "Processing failed",
	Upload:   "Upload failed",
}

// outcome is what a successful stage call produced.
type outcome struct {
	summary string
	file    string
	count   int
}

type callFunc func(ctx context.Context) (outcome, error)

// previewFunc builds the best-effort preview. It must not fail; fallbacks
// are handled inside.
type previewFunc func(ctx context.Context, o outcome) Preview

// stage is the Idle -> Loading -> Success|Error machine shared by the
// generate, process and upload pages. Each Run bumps a generation counter;
// results from an older generation are dropped.
type stage struct {
	kind   Kind
	deps   Deps
	state  *events.Topic[StageState]
	logger *zap.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	runID  int
	closed bool
	wg     sync.WaitGroup
}

func newStage(kind Kind, deps Deps) *stage {
	deps = deps.withDefaults()
	return &stage{
		kind:   kind,
		deps:   deps,
		state:  events.NewTopic(StageState{Kind: kind, Status: Idle}),
		logger: deps.Logger.With(zap.String("stage", string(kind))),
	}
}

type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	input  string
	start  time.Time
}

// ErrClosed is returned when a page is used after Close.
var ErrClosed = errors.New("page closed")

func (s *stage) begin(parent context.Context, input string, ready, async bool) (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.state.Value().Status == Loading {
		return nil, ErrBusy
	}
	if !ready {
		return nil, ErrNoInput
	}

	s.gen++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	now := time.Now()
	s.state.Publish(StageState{Kind: s.kind, Status: Loading, Input: input, StartedAt: now})
	if async {
		s.wg.Add(1)
	}
	s.logger.Debug("stage started", zap.String("input", input))

	return &attempt{ctx: ctx, cancel: cancel, gen: s.gen, input: input, start: now}, nil
}

// execute performs exactly one gateway call and settles the state.
func (s *stage) execute(a *attempt, call callFunc, preview previewFunc) error {
	rec := s.recordStart(a.input)
	o, err := call(a.ctx)
	elapsed := time.Since(a.start)

	s.mu.Lock()
	if a.gen != s.gen {
		s.mu.Unlock()
		a.cancel()
		s.recordFinish(rec, "failed", "discarded", elapsed)
		s.logger.Debug("discarding late stage response")
		return fmt.Errorf("%s response discarded: %w", s.kind, context.Canceled)
	}

	if err != nil {
		msg := userMessage(err)
		s.state.Publish(StageState{
			Kind:       s.kind,
			Status:     Error,
			Input:      a.input,
			Error:      msg,
			StartedAt:  a.start,
			FinishedAt: a.start.Add(elapsed),
			Duration:   elapsed,
		})
		s.mu.Unlock()
		a.cancel()

		s.deps.Toasts.Error(failureLabels[s.kind] + ": " + msg)
		s.recordFinish(rec, "failed", msg, elapsed)
		s.logger.Debug("stage failed", zap.Error(err))
		return err
	}

	s.state.Publish(StageState{
		Kind:       s.kind,
		Status:     Success,
		Input:      a.input,
		Summary:    o.summary,
		File:       o.file,
		Count:      o.count,
		Next:       nextSteps[s.kind],
		StartedAt:  a.start,
		FinishedAt: a.start.Add(elapsed),
		Duration:   elapsed,
	})
	if preview != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.deps.Toasts.Success(o.summary)
	output := o.file
	if output == "" {
		output = fmt.Sprint(o.count)
	}
	s.recordFinish(rec, "success", output, elapsed)
	s.logger.Debug("stage succeeded", zap.String("summary", o.summary), zap.Duration("duration", elapsed))

	if preview == nil {
		a.cancel()
		return nil
	}
	go func() {
		defer s.wg.Done()
		defer a.cancel()
		p := preview(a.ctx, o)
		s.applyPreview(a.gen, p)
	}()
	return nil
}

// run executes synchronously.
func (s *stage) run(ctx context.Context, input string, ready bool, call callFunc, preview previewFunc) error {
	a, err := s.begin(ctx, input, ready, false)
	if err != nil {
		return err
	}
	return s.execute(a, call, preview)
}

// start validates and enters Loading synchronously, then completes the call
// in the background.
func (s *stage) start(ctx context.Context, input string, ready bool, call callFunc, preview previewFunc) error {
	a, err := s.begin(ctx, input, ready, true)
	if err != nil {
		return err
	}
	go func() {
		defer s.wg.Done()
		_ = s.execute(a, call, preview)
	}()
	return nil
}

func (s *stage) applyPreview(gen uint64, p Preview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state.Value()
	if gen != s.gen || st.Status != Success {
		return
	}
	st.Preview = &p
	s.state.Publish(st)
}

// State returns the current stage state.
func (s *stage) State() StageState { return s.state.Value() }

// Subscribe streams the stage state, starting with the current value.
func (s *stage) Subscribe() (<-chan StageState, func()) { return s.state.Subscribe() }

// Wait blocks until background calls and previews have finished.
func (s *stage) Wait() { s.wg.Wait() }

// Close cancels any in-flight call, drops its eventual result and ends
// subscriptions.
func (s *stage) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.state.Close()
}

func (s *stage) loading() bool {
	return s.state.Value().Status == Loading
}

// attachRun records subsequent calls under an existing pipeline run.
func (s *stage) attachRun(runID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
}

type record struct {
	runID  int
	stepID int
	own    bool
}

func (s *stage) recordStart(input string) *record {
	h := s.deps.History
	if h == nil {
		return nil
	}
	s.mu.Lock()
	rec := &record{runID: s.runID}
	s.mu.Unlock()

	if rec.runID == 0 {
		run, err := h.CreateRun("stage", string(s.kind)+" "+input)
		if err != nil {
			s.logger.Warn("failed to record run", zap.Error(err))
			return nil
		}
		rec.runID, rec.own = run.ID, true
	}
	step, err := h.CreateStepExecution(rec.runID, string(s.kind), input)
	if err != nil {
		s.logger.Warn("failed to record step", zap.Error(err))
		return nil
	}
	rec.stepID = step.ID
	return rec
}

func (s *stage) recordFinish(rec *record, status, output string, d time.Duration) {
	if rec == nil {
		return
	}
	if err := s.deps.History.UpdateStepExecution(rec.stepID, status, output, d); err != nil {
		s.logger.Warn("failed to update step", zap.Error(err))
	}
	if rec.own {
		if err := s.deps.History.UpdateRunStatus(rec.runID, status, d); err != nil {
			s.logger.Warn("failed to update run", zap.Error(err))
		}
	}
}

// userMessage is the text shown for a failed call: the server's message,
// the generic transport text, or the local error.
func userMessage(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) || gateway.IsTransport(err) {
		return gateway.UserMessage(err)
	}
	return err.Error()
}
