package app

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/juniordebug/internal/analyze"
	"github.com/and161185/juniordebug/internal/capability"
	"github.com/and161185/juniordebug/internal/config"
	pkgcrypto "github.com/and161185/juniordebug/internal/crypto"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/repository/memory"
	"github.com/and161185/juniordebug/internal/service"
	"github.com/and161185/juniordebug/internal/stubapi"
	"github.com/and161185/juniordebug/internal/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
	)
}

const anonKey = "app-anon"

func startStub(t *testing.T) string {
	t.Helper()
	st := memory.New()
	authSvc := service.NewAuthService(st, st, []byte("app-secret"), time.Hour, nil).
		WithHashParams(pkgcrypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	s := stubapi.New(authSvc, service.NewKeyService(st), service.NewEchoAnalyzer(), stubapi.Options{
		SignKey: []byte("app-secret"),
		AnonKey: anonKey,
	}, zaptest.NewLogger(t))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(stubURL, dir string, withAuth bool) *config.Config {
	cfg := &config.Config{
		BackendURL:  stubURL,
		Dir:         dir,
		HTTPTimeout: 5 * time.Second,
	}
	if withAuth {
		cfg.AuthURL = stubURL
		cfg.AuthAnonKey = anonKey
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	a, err := New(cfg, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Close)
	return a
}

func TestApp_Unconfigured(t *testing.T) {
	stub := startStub(t)
	a := newApp(t, testConfig(stub, t.TempDir(), false), Options{})
	ctx := context.Background()

	res := a.Session.SignIn(ctx, "dev@example.com", "secret1")
	require.False(t, res.OK)
	require.Equal(t, "Authentication is not configured", res.Message)

	snap, err := a.Refresh(ctx)
	require.NoError(t, err)
	require.Nil(t, snap.User)
	require.False(t, snap.HasKey)
	require.Equal(t, capability.Fallback(), snap.Models)

	st := a.Vault.Save(ctx, "sk-0123456789")
	require.Equal(t, vault.MsgSignInFirst, st.Status)

	resp, err := a.Analyzer.Submit(ctx, analyze.Input{Code: "x = 1 ", Language: model.LangPython})
	require.NoError(t, err)
	require.Equal(t, "x = 1", resp.Code)
}

func TestApp_EndToEnd(t *testing.T) {
	stub := startStub(t)
	dir := t.TempDir()
	a := newApp(t, testConfig(stub, dir, true), Options{})
	ctx := context.Background()

	res := a.Session.SignUp(ctx, "dev@example.com", "secret1", "secret2")
	require.False(t, res.OK)

	res = a.Session.SignUp(ctx, "dev@example.com", "secret1", "secret1")
	require.True(t, res.OK, res.Message)
	require.NotNil(t, a.Session.Session())

	st := a.Vault.Save(ctx, "sk-proj-abcdef123456")
	require.NoError(t, st.Err)
	require.Equal(t, "sk-...3456", st.Masked)
	require.Equal(t, model.ProviderOpenAI, st.Provider)

	snap, err := a.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "dev@example.com", snap.User.Email)
	require.True(t, snap.HasKey)
	require.Equal(t, "OpenAI", snap.Provider)
	require.Equal(t, capability.ForProvider("OpenAI"), snap.Models)

	_, err = a.Analyzer.Submit(ctx, analyze.Input{Code: "a\t\n", Task: model.TaskRefactor, Language: model.LangJava})
	require.NoError(t, err)
	require.Equal(t, "Found 1 suggestions", a.Analyzer.State().Confirmation)

	// a second process sees the persisted session
	b := newApp(t, testConfig(stub, dir, true), Options{})
	require.NotNil(t, b.Session.User())
	require.Equal(t, "dev@example.com", b.Session.User().Email)

	require.NoError(t, b.Session.SignOut(ctx))
	require.Nil(t, b.Session.Session())
	require.Equal(t, "/", b.History.Location().Path)
}

func TestApp_CallbackOnBoot(t *testing.T) {
	stub := startStub(t)
	ctx := context.Background()

	first := newApp(t, testConfig(stub, t.TempDir(), true), Options{})
	require.True(t, first.Session.SignUp(ctx, "cb@example.com", "secret1", "secret1").OK)
	sess := first.Session.Session()

	cb, err := url.Parse("http://localhost:5173/auth/callback")
	require.NoError(t, err)
	cb.Fragment = url.Values{
		"access_token":  {sess.AccessToken},
		"refresh_token": {sess.RefreshToken},
		"expires_at":    {strconv.FormatInt(sess.ExpiresAt.Unix(), 10)},
		"type":          {"magiclink"},
	}.Encode()

	second := newApp(t, testConfig(stub, t.TempDir(), true), Options{Location: cb})
	require.NotNil(t, second.Session.User())
	require.Equal(t, "cb@example.com", second.Session.User().Email)

	loc := second.History.Location()
	require.Empty(t, loc.Fragment)
	require.Equal(t, "/", loc.Path)
}

func TestApp_WatchFollowsOtherProcess(t *testing.T) {
	stub := startStub(t)
	dir := t.TempDir()
	ctx := context.Background()

	watching := newApp(t, testConfig(stub, dir, true), Options{Watch: true})
	other := newApp(t, testConfig(stub, dir, true), Options{})

	require.True(t, other.Session.SignUp(ctx, "w@example.com", "secret1", "secret1").OK)
	require.Eventually(t, func() bool {
		u := watching.Session.User()
		return u != nil && u.Email == "w@example.com"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, other.Session.SignOut(ctx))
	require.Eventually(t, func() bool { return watching.Session.Session() == nil }, 5*time.Second, 20*time.Millisecond)
}

type brokenNavigator struct{ loc *url.URL }

func (b brokenNavigator) Location() *url.URL          { c := *b.loc; return &c }
func (b brokenNavigator) ReplaceState(*url.URL) error { return nil }
func (b brokenNavigator) Replace(*url.URL) error      { panic("router unmounted") }

func TestApp_SignOutFallsBackToHistory(t *testing.T) {
	stub := startStub(t)
	ctx := context.Background()
	start, err := url.Parse("http://localhost:5173/editor")
	require.NoError(t, err)

	a := newApp(t, testConfig(stub, t.TempDir(), true), Options{Location: start, Navigator: brokenNavigator{loc: start}})
	require.Equal(t, "/editor", a.History.Location().Path)
	require.True(t, a.Session.SignUp(ctx, "nav@example.com", "secret1", "secret1").OK)

	require.NoError(t, a.Session.SignOut(ctx))
	require.Nil(t, a.Session.Session())
	require.Equal(t, "/", a.History.Location().Path)
}

func TestLogNavigator(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	start, err := url.Parse("http://localhost:5173/editor?x=1")
	require.NoError(t, err)
	n := &logNavigator{log: zap.New(core), loc: start}

	landing, err := url.Parse("http://localhost:5173/")
	require.NoError(t, err)
	require.NoError(t, n.Replace(landing))
	require.Equal(t, landing.String(), n.Location().String())
	require.Error(t, n.ReplaceState(nil))

	entries := logs.FilterMessage("navigated").All()
	require.Len(t, entries, 1)
	require.Equal(t, landing.String(), entries[0].ContextMap()["location"])
}

func TestApp_RefreshCanceled(t *testing.T) {
	stub := startStub(t)
	a := newApp(t, testConfig(stub, t.TempDir(), false), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := a.Refresh(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, snap.HasKey)
	require.NotEmpty(t, snap.Models)
}
