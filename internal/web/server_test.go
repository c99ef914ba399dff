package web_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheMichaelB/flightbook/internal/devapi"
	"github.com/TheMichaelB/flightbook/internal/services/totp"
	"github.com/TheMichaelB/flightbook/internal/session"
	"github.com/TheMichaelB/flightbook/internal/tokenstore"
	"github.com/TheMichaelB/flightbook/internal/web"
	"github.com/TheMichaelB/flightbook/test/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type shell struct {
	url        string
	clock      *clock
	totpSecret string
	apiCalls   atomic.Int64

	mu    sync.Mutex
	links map[string]string
}

func (s *shell) resetLink(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[email]
}

func newShell(t *testing.T) *shell {
	t.Helper()
	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.DevAPI.AccessTokenTTL = time.Minute
	cfg.DevAPI.RefreshTokenTTL = time.Hour
	cfg.Web.AllowedOrigins = []string{"http://app.example"}
	cfg.Web.VisitorTTL = time.Hour

	sh := &shell{clock: &clock{now: time.Now()}, links: map[string]string{}}
	api := devapi.New(&cfg.DevAPI, testutil.NewTestLogger(),
		devapi.WithClock(sh.clock.Now),
		devapi.WithBcryptCost(bcrypt.MinCost),
		devapi.WithResetNotifier(func(email, link string) {
			sh.mu.Lock()
			defer sh.mu.Unlock()
			sh.links[email] = link
		}),
	)
	secret, err := api.SeedDemo()
	require.NoError(t, err)
	sh.totpSecret = secret

	routes := api.Routes()
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sh.apiCalls.Add(1)
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(apiServer.Close)
	cfg.API.BaseURL = apiServer.URL + "/api"

	srv, err := web.New(cfg, tokenstore.NewMemoryKV(), testutil.NewTestLogger())
	require.NoError(t, err)
	webServer := httptest.NewServer(srv.Routes())
	t.Cleanup(webServer.Close)
	sh.url = webServer.URL
	return sh
}

type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (s *shell) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: s.url,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) login(username, password string) *http.Response {
	b.t.Helper()
	resp, _ := b.post("/login", url.Values{"username": {username}, "password": {password}})
	return resp
}

func assertRedirect(t *testing.T, resp *http.Response, location string) {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, location, resp.Header.Get("Location"))
}

func TestDashboardRequiresLogin(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, _ := b.get("/dashboard")
	assertRedirect(t, resp, "/login?from=%2Fdashboard")

	resp, body := b.get("/login?from=%2Fdashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `name="from" value="/dashboard"`)

	assertRedirect(t, b.login("demo", "password"), "/dashboard")

	resp, body = b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome, demo")
	assert.Contains(t, body, "FB101")
	assert.Contains(t, body, "Booking #")
	assert.Contains(t, body, "User")
	assert.NotContains(t, body, `href="/admin"`)
}

func TestLoginReturnsToRememberedLocation(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, _ := b.get("/admin/reports")
	assertRedirect(t, resp, "/login?from=%2Fadmin%2Freports")

	assertRedirect(t, b.login("admin", "password"), "/admin/reports")

	resp, body := b.get("/admin/reports")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "All bookings")
	assert.Contains(t, body, "pilot")
}

func TestLoginIgnoresForeignReturnLocation(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, _ := b.post("/login", url.Values{
		"username": {"demo"},
		"password": {"password"},
		"from":     {"https://evil.example/phish"},
	})
	assertRedirect(t, resp, "/dashboard")

	resp, _ = b.get("/login")
	assertRedirect(t, resp, "/dashboard")
}

func TestLoginFailures(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, body := b.post("/login", url.Values{"username": {" "}, "password": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Username is required")
	assert.Contains(t, body, "Password is required")

	resp, body = b.post("/login", url.Values{"username": {"demo"}, "password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, devapi.MsgBadCredentials)
	assert.Contains(t, body, `value="demo"`)
}

func TestRoleGuard(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)
	b.login("demo", "password")

	resp, _ := b.get("/admin")
	assertRedirect(t, resp, "/unauthorized")

	resp, body := b.get("/unauthorized")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access denied")

	admin := sh.browser(t)
	admin.login("admin", "password")
	resp, body = admin.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `href="/admin"`)
	assert.Contains(t, body, "Admin")
}

func TestTwoFactorLogin(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, _ := b.post("/login/2fa", url.Values{"code": {"123456"}})
	assertRedirect(t, resp, "/login")

	assertRedirect(t, b.login("pilot", "password"), "/login")

	resp, body := b.get("/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Two-factor verification")
	assert.Contains(t, body, "pilot")

	resp, body = b.post("/login/2fa", url.Values{"code": {"12"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Code must be 6 digits")

	code, err := totp.NewService().GenerateCode(sh.totpSecret)
	require.NoError(t, err)
	resp, _ = b.post("/login/2fa", url.Values{"code": {code}})
	assertRedirect(t, resp, "/dashboard")

	resp, body = b.get("/dashboard")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome, pilot")
}

func TestCancelTwoFactor(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)
	b.login("pilot", "password")

	resp, _ := b.post("/login/cancel", nil)
	assertRedirect(t, resp, "/login")

	_, body := b.get("/login")
	assert.NotContains(t, body, "Two-factor verification")
	assert.Contains(t, body, `name="password"`)
}

func TestRegister(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, body := b.post("/register", url.Values{"username": {"ana"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Email is required")

	form := url.Values{
		"username": {"ana"},
		"email":    {"ana@example.com"},
		"password": {"secret"},
		"role":     {"user"},
	}
	resp, _ = b.post("/register", form)
	assertRedirect(t, resp, "/login?registered=1")

	_, body = b.get("/login?registered=1")
	assert.Contains(t, body, web.NoticeRegistered)

	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login?from=%2Fdashboard")

	resp, body = b.post("/register", form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, devapi.MsgUsernameTaken)

	assertRedirect(t, b.login("ana", "secret"), "/dashboard")
}

func TestPasswordResetFlow(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, body := b.post("/forgot-password", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "Invalid email address")

	resp, body = b.post("/forgot-password", url.Values{"email": {"demo@flightbook.test"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, devapi.MsgResetSent)

	raw := sh.resetLink("demo@flightbook.test")
	require.NotEmpty(t, raw)
	link, err := url.Parse(raw)
	require.NoError(t, err)

	resp, body = b.get(link.RequestURI())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, link.Query().Get("token"))

	form := url.Values{
		"token":           {link.Query().Get("token")},
		"email":           {link.Query().Get("email")},
		"password":        {"newsecret"},
		"confirmPassword": {"different"},
	}
	resp, body = b.post("/reset-password", form)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "The passwords do not match")

	form.Set("confirmPassword", "newsecret")
	resp, _ = b.post("/reset-password", form)
	assertRedirect(t, resp, "/login?reset=1")

	_, body = b.get("/login?reset=1")
	assert.Contains(t, body, web.NoticePasswordReset)

	resp = b.login("demo", "password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assertRedirect(t, b.login("demo", "newsecret"), "/dashboard")
}

func TestResetPasswordInvalidLink(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	for _, path := range []string{"/reset-password", "/reset-password?token=abc", "/reset-password?email=a@b.co"} {
		resp, body := b.get(path)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Contains(t, body, "invalid or has expired", path)
		assert.Contains(t, body, `href="/forgot-password"`, path)
	}

	resp, body := b.post("/reset-password", url.Values{"password": {"newsecret"}, "confirmPassword": {"newsecret"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "invalid or has expired")

	assert.Zero(t, sh.apiCalls.Load(), "a malformed link never reaches the API")
}

func TestExpiredSessionRedirectsToLogin(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)
	b.login("demo", "password")

	sh.clock.Advance(2 * time.Minute)
	resp, _ := b.get("/dashboard")
	require.Equal(t, http.StatusOK, resp.StatusCode, "expired access token is refreshed")

	sh.clock.Advance(2 * time.Hour)
	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login?from=%2Fdashboard")

	_, body := b.get("/login")
	assert.Contains(t, body, session.ExpiredMessage)

	assertRedirect(t, b.login("demo", "password"), "/dashboard")
}

func TestLogout(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)
	b.login("demo", "password")

	resp, _ := b.post("/logout", nil)
	assertRedirect(t, resp, "/login")

	resp, _ = b.get("/dashboard")
	assertRedirect(t, resp, "/login?from=%2Fdashboard")
}

func TestCatchAllGoesToDashboard(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, _ := b.get("/no/such/page")
	assertRedirect(t, resp, "/dashboard")

	resp, body := b.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Book your next flight")
}

func TestSessionJSON(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	var view web.SessionView
	_, body := b.get("/api/session")
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.Equal(t, session.StateUnauthenticated, view.State)

	b.login("admin", "password")
	_, body = b.get("/api/session")
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.Equal(t, session.StateAuthenticated, view.State)
	assert.Equal(t, "admin", view.Username)
	assert.True(t, view.Admin)
	assert.NotContains(t, body, "token", "tokens stay server side")
}

func TestSessionCORS(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	req, err := http.NewRequest(http.MethodGet, sh.url+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.example")
	resp, _ := b.do(req)
	assert.Equal(t, "http://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequest(http.MethodGet, sh.url+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, _ = b.do(req)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSessionStream(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)
	b.login("demo", "password")

	base, err := url.Parse(sh.url)
	require.NoError(t, err)
	header := http.Header{}
	for _, c := range b.client.Jar.Cookies(base) {
		header.Add("Cookie", c.String())
	}

	wsURL := "ws" + strings.TrimPrefix(sh.url, "http") + "/ws/session"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() web.SessionView {
		t.Helper()
		var view web.SessionView
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&view))
		return view
	}

	first := read()
	assert.Equal(t, session.StateAuthenticated, first.State)
	assert.Equal(t, "demo", first.Username)

	b.post("/logout", nil)

	next := read()
	assert.Equal(t, session.StateUnauthenticated, next.State)
	assert.Empty(t, next.Username)
}

func TestHealthAndMetrics(t *testing.T) {
	sh := newShell(t)
	b := sh.browser(t)

	resp, body := b.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", body)

	resp, body = b.get("/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "go_goroutines")
}
