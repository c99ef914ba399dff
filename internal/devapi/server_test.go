package devapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheMichaelB/flightbook/internal/client"
	"github.com/TheMichaelB/flightbook/internal/config"
	"github.com/TheMichaelB/flightbook/internal/devapi"
	"github.com/TheMichaelB/flightbook/internal/forms"
	"github.com/TheMichaelB/flightbook/internal/models"
	"github.com/TheMichaelB/flightbook/internal/services/totp"
	"github.com/TheMichaelB/flightbook/internal/session"
	"github.com/TheMichaelB/flightbook/internal/transport"
	"github.com/TheMichaelB/flightbook/test/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mailbox struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *mailbox) deliver(email, link string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[email] = link
}

func (m *mailbox) link(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[email]
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

type env struct {
	server     *devapi.Server
	url        string
	clock      *fakeClock
	mail       *mailbox
	totpSecret string
	cfg        *config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.DevAPI.AccessTokenTTL = time.Minute
	cfg.DevAPI.RefreshTokenTTL = time.Hour
	cfg.DevAPI.ResetURL = "http://localhost:3000/reset-password"
	cfg.Store.Backend = "memory"

	e := &env{
		clock: &fakeClock{now: time.Now()},
		mail:  &mailbox{links: map[string]string{}},
		cfg:   cfg,
	}
	e.server = devapi.New(&cfg.DevAPI, testutil.NewTestLogger(),
		devapi.WithClock(e.clock.Now),
		devapi.WithResetNotifier(e.mail.deliver),
		devapi.WithBcryptCost(bcrypt.MinCost),
	)

	secret, err := e.server.SeedDemo()
	require.NoError(t, err)
	e.totpSecret = secret

	srv := httptest.NewServer(e.server.Routes())
	t.Cleanup(srv.Close)
	e.url = srv.URL
	cfg.API.BaseURL = srv.URL + "/api"
	return e
}

// api returns a plain transport, optionally carrying a bearer token.
func (e *env) api(token string) transport.Doer {
	var tokens transport.TokenSource
	if token != "" {
		tokens = staticToken(token)
	}
	return transport.NewHTTPClient(&e.cfg.API, tokens, testutil.NewTestLogger())
}

func (e *env) client(t *testing.T) *client.Client {
	t.Helper()
	store, _ := testutil.NewMemoryStore(t)
	base := transport.NewHTTPClient(&e.cfg.API, nil, testutil.NewTestLogger())
	return client.NewWithStore(e.cfg, base, store, testutil.NewTestLogger())
}

func apiMessage(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.StatusCode, apiErr.Message
}

func signIn(t *testing.T, d transport.Doer, username, password string) (models.SessionRecord, error) {
	t.Helper()
	var record models.SessionRecord
	err := transport.PostPublic(context.Background(), d, "/auth/signin", nil,
		models.Credentials{Username: username, Password: password}, &record)
	return record, err
}

func TestSignIn(t *testing.T) {
	e := newEnv(t)

	record, err := signIn(t, e.api(""), "demo", "password")
	require.NoError(t, err)
	assert.NotEmpty(t, record.Token)
	assert.NotEmpty(t, record.RefreshToken)
	assert.Equal(t, "Bearer", record.Type)
	assert.Equal(t, "demo@flightbook.test", record.Email)
	assert.Equal(t, []string{models.RoleUser}, record.Roles)
	assert.False(t, record.MFARequired)

	_, err = signIn(t, e.api(""), "demo", "wrong")
	status, msg := apiMessage(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, devapi.MsgBadCredentials, msg)

	_, err = signIn(t, e.api(""), "nobody", "password")
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgBadCredentials, msg)
}

func TestTwoFactorSignIn(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.api("")
	verify := func(code string) (models.SessionRecord, error) {
		var record models.SessionRecord
		err := transport.PostPublic(ctx, d, "/auth/verify-2fa",
			map[string][]string{"username": {"pilot"}},
			models.TwoFactorRequest{Code: code}, &record)
		return record, err
	}

	code, err := totp.NewService().GenerateCode(e.totpSecret)
	require.NoError(t, err)

	_, err = verify(code)
	_, msg := apiMessage(t, err)
	assert.Equal(t, devapi.MsgNoChallenge, msg, "verification needs a password sign-in first")

	challenge, err := signIn(t, d, "pilot", "password")
	require.NoError(t, err)
	assert.True(t, challenge.MFARequired)
	assert.True(t, challenge.MFAEnabled)
	assert.Empty(t, challenge.Token)

	wrong := []byte(code)
	for i := range wrong {
		wrong[i] = '0' + (wrong[i]-'0'+5)%10
	}
	_, err = verify(string(wrong))
	status, msg := apiMessage(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, devapi.MsgBadCode, msg)

	record, err := verify(code)
	require.NoError(t, err)
	assert.NotEmpty(t, record.Token)
	assert.Equal(t, "pilot", record.Username)

	_, err = verify(code)
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgNoChallenge, msg, "challenge is consumed")
}

func TestSignUp(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.api("")
	signUp := func(req models.SignupRequest) (string, error) {
		var resp models.MessageResponse
		err := transport.PostPublic(ctx, d, "/auth/signup", nil, req, &resp)
		return resp.Message, err
	}

	msg, err := signUp(models.SignupRequest{Username: "ana", Email: "ana@example.com", Password: "secret", Role: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, devapi.MsgRegistered, msg)

	record, err := signIn(t, d, "ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RoleAdmin}, record.Roles)

	_, err = signUp(models.SignupRequest{Username: "ana", Email: "other@example.com", Password: "secret"})
	status, msg := apiMessage(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, devapi.MsgUsernameTaken, msg)

	_, err = signUp(models.SignupRequest{Username: "bob", Email: "ANA@example.com", Password: "secret"})
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgEmailTaken, msg)

	_, err = signUp(models.SignupRequest{Username: "bob"})
	status, _ = apiMessage(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProtectedEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var flights []models.Flight
	err := transport.Get(ctx, e.api(""), "/flights", &flights)
	status, msg := apiMessage(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, devapi.MsgUnauthorized, msg)

	err = transport.Get(ctx, e.api("not-a-jwt"), "/flights", &flights)
	status, _ = apiMessage(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	demo, err := signIn(t, e.api(""), "demo", "password")
	require.NoError(t, err)
	require.NoError(t, transport.Get(ctx, e.api(demo.Token), "/flights", &flights))
	assert.Len(t, flights, 4)

	var bookings []models.Booking
	require.NoError(t, transport.Get(ctx, e.api(demo.Token), "/bookings", &bookings))
	assert.Len(t, bookings, 2)
	for _, b := range bookings {
		assert.Equal(t, "demo", b.Username)
	}

	err = transport.Get(ctx, e.api(demo.Token), "/admin/bookings", &bookings)
	status, msg = apiMessage(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, devapi.MsgForbidden, msg)

	admin, err := signIn(t, e.api(""), "admin", "password")
	require.NoError(t, err)
	require.NoError(t, transport.Get(ctx, e.api(admin.Token), "/admin/bookings", &bookings))
	assert.Len(t, bookings, 3)

	e.clock.Advance(2 * time.Minute)
	err = transport.Get(ctx, e.api(admin.Token), "/flights", &flights)
	status, _ = apiMessage(t, err)
	assert.Equal(t, http.StatusUnauthorized, status, "access token expired")
}

func TestClientRefreshAgainstDevAPI(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t)

	_, err := c.Session.Login(ctx, models.Credentials{Username: "demo", Password: "password"})
	require.NoError(t, err)
	first, err := c.Store.AccessToken(ctx)
	require.NoError(t, err)

	e.clock.Advance(2 * time.Minute)

	bookings, err := c.Flights.ListBookings(ctx)
	require.NoError(t, err)
	assert.Len(t, bookings, 2)

	second, err := c.Store.AccessToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.True(t, c.Session.IsAuthenticated())

	e.clock.Advance(2 * time.Hour)

	_, err = c.Flights.ListBookings(ctx)
	status, msg := apiMessage(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, devapi.MsgRefreshInvalid, msg)

	snap := c.Session.Snapshot()
	assert.Equal(t, session.StateUnauthenticated, snap.State)
	assert.True(t, snap.Expired)

	record, err := c.Store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestPasswordReset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t)

	msg, err := c.Session.RequestPasswordReset(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, devapi.MsgResetSent, msg)
	assert.Empty(t, e.mail.link("nobody@example.com"))

	_, err = c.Session.RequestPasswordReset(ctx, "demo@flightbook.test")
	require.NoError(t, err)
	raw := e.mail.link("demo@flightbook.test")
	require.NotEmpty(t, raw)

	link, err := forms.ParseResetLink(raw)
	require.NoError(t, err)
	assert.Equal(t, "demo@flightbook.test", link.Email)

	_, err = c.Session.ResetPassword(ctx, link.Request("abc"))
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgPasswordTooShort, msg)

	bad := link
	bad.Email = "admin@flightbook.test"
	_, err = c.Session.ResetPassword(ctx, bad.Request("newsecret"))
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgResetTokenInvalid, msg)

	msg, err = c.Session.ResetPassword(ctx, link.Request("newsecret"))
	require.NoError(t, err)
	assert.Equal(t, devapi.MsgResetDone, msg)

	_, err = c.Session.ResetPassword(ctx, link.Request("another1"))
	_, msg = apiMessage(t, err)
	assert.Equal(t, devapi.MsgResetTokenInvalid, msg, "reset tokens are single use")

	_, err = signIn(t, e.api(""), "demo", "password")
	assert.Error(t, err)
	_, err = signIn(t, e.api(""), "demo", "newsecret")
	assert.NoError(t, err)
}

func TestResetTokenExpires(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client(t)

	_, err := c.Session.RequestPasswordReset(ctx, "admin@flightbook.test")
	require.NoError(t, err)
	link, err := forms.ParseResetLink(e.mail.link("admin@flightbook.test"))
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)

	_, err = c.Session.ResetPassword(ctx, link.Request("newsecret"))
	_, msg := apiMessage(t, err)
	assert.Equal(t, devapi.MsgResetTokenInvalid, msg)
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.url + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.url + "/api/nowhere")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
