package analyze

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/juniordebug/internal/api"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
)

type rotatingTokens struct{ n atomic.Int32 }

func (r *rotatingTokens) AccessToken(context.Context) (string, bool) {
	n := r.n.Add(1)
	return "tok-" + string(rune('0'+n)), true
}

type anonTokens struct{}

func (anonTokens) AccessToken(context.Context) (string, bool) { return "", false }

type fakeBackend struct {
	calls  int
	tokens []string
	last   model.AnalyzeRequest
	resp   *model.AnalyzeResponse
	err    error
	hook   func()
}

func (f *fakeBackend) Analyze(_ context.Context, token string, req model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	f.last = req
	if f.hook != nil {
		f.hook()
	}
	return f.resp, f.err
}

func okResponse() *model.AnalyzeResponse {
	return &model.AnalyzeResponse{
		Code: "fixed",
		Explanations: []model.Explanation{
			{Title: "b", Description: "2"},
			{Title: "a", Description: "1"},
		},
	}
}

func TestInput_Request(t *testing.T) {
	t.Parallel()

	req, err := Input{Code: "x"}.Request()
	require.NoError(t, err)
	require.Equal(t, model.AnalyzeRequest{Code: "x", TaskDescription: "Full cleanup", Model: "auto", Language: model.LangJavaScript}, req)

	req, err = Input{Code: "x", Task: model.TaskComments, Model: "gpt-4o", Language: model.LangRust}.Request()
	require.NoError(t, err)
	require.Equal(t, "Add Comments", req.TaskDescription)
	require.Equal(t, "gpt-4o", req.Model)

	for _, in := range []Input{
		{Code: "x", Task: "translate"},
		{Code: "x", Language: "cobol"},
	} {
		_, err := in.Request()
		var ce *errs.ClassifiedError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, errs.KindValidation, ce.Kind)
	}
}

func TestSubmit_EmptyCodeNeverCallsBackend(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{resp: okResponse()}
	o := New(b, &rotatingTokens{}, zaptest.NewLogger(t))

	for _, code := range []string{"", "   ", "\n\t "} {
		_, err := o.Submit(context.Background(), Input{Code: code})
		var ce *errs.ClassifiedError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, errs.KindValidation, ce.Kind)
		require.Equal(t, MsgEmptyCode, UserMessage(err))
	}
	require.Zero(t, b.calls)
}

func TestSubmit_SuccessFreshTokenEachCall(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{resp: okResponse()}
	o := New(b, &rotatingTokens{}, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		resp, err := o.Submit(context.Background(), Input{Code: "let x", Task: model.TaskDebug, Language: model.LangTypeScript})
		require.NoError(t, err)
		require.Equal(t, "fixed", resp.Code)
	}
	require.Equal(t, []string{"tok-1", "tok-2"}, b.tokens)
	require.Equal(t, "Find and fix errors", b.last.TaskDescription)

	st := o.State()
	require.False(t, st.Pending)
	require.Nil(t, st.Err)
	require.Equal(t, "Found 2 suggestions", st.Confirmation)
	require.Equal(t, "b", st.Result.Explanations[0].Title)
	require.Equal(t, "a", st.Result.Explanations[1].Title)
}

func TestSubmit_Anonymous(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{resp: okResponse()}
	_, err := New(b, anonTokens{}, nil).Submit(context.Background(), Input{Code: "x"})
	require.NoError(t, err)
	require.Equal(t, []string{""}, b.tokens)
}

func TestSubmit_FailureKeepsPreviousResult(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{resp: okResponse()}
	o := New(b, &rotatingTokens{}, zaptest.NewLogger(t))
	first, err := o.Submit(context.Background(), Input{Code: "x"})
	require.NoError(t, err)

	cases := []struct {
		err  error
		kind errs.Kind
		msg  string
	}{
		{&api.StatusError{StatusCode: 429, Detail: "Error 429: too many requests"}, errs.KindQuotaExceeded, errs.MsgQuotaExceeded},
		{&api.StatusError{StatusCode: 400, Detail: "Your API key was reported as leaked"}, errs.KindCredentialRejected, errs.MsgCredentialRejected},
		{errors.New("model overloaded"), errs.KindGeneric, "model overloaded"},
		{&api.StatusError{StatusCode: 502}, errs.KindGeneric, "backend returned 502 Bad Gateway"},
	}
	for _, tc := range cases {
		b.resp, b.err = nil, tc.err
		_, err := o.Submit(context.Background(), Input{Code: "x"})
		require.Error(t, err)
		require.Equal(t, tc.msg, UserMessage(err))

		st := o.State()
		require.False(t, st.Pending)
		require.Equal(t, tc.kind, st.Err.Kind)
		require.Same(t, first, st.Result)
		require.Empty(t, st.Confirmation)
	}
}

func TestSubmit_BusyWhilePending(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{resp: okResponse()}
	o := New(b, &rotatingTokens{}, nil)

	var nestedErr error
	var pendingDuring bool
	b.hook = func() {
		b.hook = nil
		pendingDuring = o.Pending()
		_, nestedErr = o.Submit(context.Background(), Input{Code: "y"})
	}

	_, err := o.Submit(context.Background(), Input{Code: "x"})
	require.NoError(t, err)
	require.True(t, pendingDuring)
	require.ErrorIs(t, nestedErr, errs.ErrBusy)
	require.Equal(t, 1, b.calls)
	require.False(t, o.Pending())
	require.Nil(t, o.Err())
	require.NotNil(t, o.Result())
}

func TestUserMessage(t *testing.T) {
	t.Parallel()
	require.Empty(t, UserMessage(nil))
	require.Equal(t, errs.MsgGenericFailure, UserMessage(&errs.ClassifiedError{}))
	require.Equal(t, "Found 0 suggestions", Confirmation(0))
}
