// Package analyze dispatches code to the analysis backend and keeps the
// latest result for display.
package analyze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/model"
)

// MsgEmptyCode is the validation message for blank input.
const MsgEmptyCode = "Please enter some code to analyze"

// Defaults for omitted input fields.
const (
	DefaultTask     = model.TaskDebugRefactor
	DefaultLanguage = model.LangJavaScript
)

// Backend sends the analyze request.
type Backend interface {
	Analyze(ctx context.Context, token string, req model.AnalyzeRequest) (*model.AnalyzeResponse, error)
}

// TokenSource yields a fresh access token, or false when anonymous.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Input is what the user picked.
type Input struct {
	Code     string
	Task     model.Task
	Model    string
	Language model.Language
}

// Request validates in and builds the wire request.
func (in Input) Request() (model.AnalyzeRequest, error) {
	if strings.TrimSpace(in.Code) == "" {
		return model.AnalyzeRequest{}, errs.Validation(MsgEmptyCode)
	}
	task := in.Task
	if task == "" {
		task = DefaultTask
	}
	desc := task.Description()
	if desc == "" {
		return model.AnalyzeRequest{}, errs.Validation(fmt.Sprintf("Unknown task %q", in.Task))
	}
	lang := in.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	if !lang.Valid() {
		return model.AnalyzeRequest{}, errs.Validation(fmt.Sprintf("Unsupported language %q", in.Language))
	}
	m := strings.TrimSpace(in.Model)
	if m == "" {
		m = model.ModelAuto
	}
	return model.AnalyzeRequest{Code: in.Code, TaskDescription: desc, Model: m, Language: lang}, nil
}

// State is a snapshot for display.
type State struct {
	Pending      bool
	Result       *model.AnalyzeResponse // last successful result
	Err          *errs.ClassifiedError  // last failure, nil after success
	Confirmation string
}

// Orchestrator runs one analysis at a time.
type Orchestrator struct {
	backend Backend
	tokens  TokenSource
	log     *zap.Logger

	pending atomic.Bool

	mu           sync.RWMutex
	result       *model.AnalyzeResponse
	err          *errs.ClassifiedError
	confirmation string
}

// New builds an Orchestrator.
func New(b Backend, tokens TokenSource, log *zap.Logger) *Orchestrator {
	return &Orchestrator{backend: b, tokens: tokens, log: logging.OrNop(log)}
}

// Submit validates in, fetches a fresh token and calls the backend. A call
// made while another is pending fails with errs.ErrBusy without touching
// state. Failures are returned classified; the previous result is kept.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (*model.AnalyzeResponse, error) {
	req, err := in.Request()
	if err != nil {
		ce := errs.Wrap(err)
		o.setFailure(ce)
		return nil, ce
	}

	if !o.pending.CompareAndSwap(false, true) {
		return nil, errs.ErrBusy
	}
	defer o.pending.Store(false)

	// Never reuse an earlier token: it may have rotated.
	token, _ := o.tokens.AccessToken(ctx)

	start := time.Now()
	resp, err := o.backend.Analyze(ctx, token, req)
	if err != nil {
		ce := errs.Wrap(err)
		o.log.Info("analyze failed",
			zap.String("kind", ce.Kind.String()),
			zap.Duration("dur", time.Since(start)),
		)
		o.setFailure(ce)
		return nil, ce
	}

	o.log.Debug("analyze done",
		zap.Int("explanations", len(resp.Explanations)),
		zap.Bool("authenticated", token != ""),
		zap.Duration("dur", time.Since(start)),
	)
	o.mu.Lock()
	o.result = resp
	o.err = nil
	o.confirmation = Confirmation(len(resp.Explanations))
	o.mu.Unlock()
	return resp, nil
}

func (o *Orchestrator) setFailure(ce *errs.ClassifiedError) {
	o.mu.Lock()
	o.err = ce
	o.confirmation = ""
	o.mu.Unlock()
}

// Pending reports whether a Submit is in flight.
func (o *Orchestrator) Pending() bool { return o.pending.Load() }

// Result returns the last successful response.
func (o *Orchestrator) Result() *model.AnalyzeResponse {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result
}

// Err returns the last failure.
func (o *Orchestrator) Err() *errs.ClassifiedError {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.err
}

// State returns a snapshot.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return State{Pending: o.pending.Load(), Result: o.result, Err: o.err, Confirmation: o.confirmation}
}

// Confirmation is the count-based success message.
func Confirmation(n int) string {
	return fmt.Sprintf("Found %d suggestions", n)
}

// UserMessage renders a Submit error for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return errs.Wrap(err).UserMessage(errs.MsgGenericFailure)
}
