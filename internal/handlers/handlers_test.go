package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handsomefox/tvratings/internal/store"
)

type staticCatalogs struct {
	catalog *store.Catalog
}

func (s *staticCatalogs) Current() *store.Catalog { return s.catalog }

type fakeRecaptcha struct {
	ok bool
}

func (f *fakeRecaptcha) Verify(context.Context, string) bool { return f.ok }

type sentMail struct {
	to      string
	subject string
	html    string
}

type fakeMailer struct {
	sent []sentMail
	fail bool
}

func (f *fakeMailer) Send(to, subject, html string) error {
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

type testApp struct {
	handler *Handler
	router  chi.Router
	users   *store.Users
	mailer  *fakeMailer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	catalog := store.NewCatalog(filepath.Join(dir, "imdb.snap"))
	require.NoError(t, catalog.Connect(ctx))
	t.Cleanup(func() { _ = catalog.Disconnect() })
	for _, statement := range []string{
		"CREATE TABLE shows (showId TEXT PRIMARY KEY, title TEXT, startYear INTEGER, endYear INTEGER, duration INTEGER, rating REAL, votes INTEGER)",
		"CREATE TABLE episodes (episodeId TEXT PRIMARY KEY, showId TEXT, title TEXT, season INTEGER, episode INTEGER, startYear INTEGER, duration INTEGER, rating REAL, votes INTEGER)",
		"CREATE TABLE genres (showId TEXT, genre TEXT)",
		"INSERT INTO shows VALUES ('tt1', 'Breaking Bad', 2008, 2013, 45, 9.5, 2000000)",
		"INSERT INTO shows VALUES ('tt2', 'The Wire', 2002, 2008, 60, 9.3, 380000)",
		"INSERT INTO genres VALUES ('tt1', 'Crime'), ('tt1', 'Drama')",
		"INSERT INTO episodes VALUES ('e1', 'tt1', 'Pilot', 1, 1, 2008, 58, 9.0, 50000)",
	} {
		_, err := catalog.Exec(ctx, statement)
		require.NoError(t, err)
	}

	users := store.NewUsers(filepath.Join(dir, "users.snap"))
	require.NoError(t, users.Connect(ctx))
	t.Cleanup(func() { _ = users.Disconnect() })

	mailer := &fakeMailer{}
	handler, err := New(&Config{
		Catalogs:         &staticCatalogs{catalog: catalog},
		Users:            users,
		Mailer:           mailer,
		Recaptcha:        &fakeRecaptcha{ok: true},
		JWTSecret:        "abc123",
		JWTExpireSeconds: 604800,
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	return &testApp{handler: handler, router: router, users: users, mailer: mailer}
}

func (app *testApp) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) postLogin(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) sessionCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	token, err := app.handler.tokens.Issue(email)
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func decodeRecords(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var records []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	return records
}

func TestGetRoot(t *testing.T) {
	app := newTestApp(t)

	rec := app.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestGetSearch(t *testing.T) {
	app := newTestApp(t)

	rec := app.get(t, "/search?titleSearch=breaking+bad")
	require.Equal(t, http.StatusOK, rec.Code)

	records := decodeRecords(t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "tt1", records[0]["showId"])
	assert.Equal(t, "Crime,Drama", records[0]["genres"])
}

func TestGetShow(t *testing.T) {
	app := newTestApp(t)

	rec := app.get(t, "/show")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "showId not found")

	rec = app.get(t, "/show?showId=tt999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.get(t, "/show?showId=tt1")
	require.Equal(t, http.StatusOK, rec.Code)

	var result struct {
		Show     map[string]any   `json:"show"`
		Episodes []map[string]any `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Breaking Bad", result.Show["title"])
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, "e1", result.Episodes[0]["episodeId"])
}

func TestGetGenres(t *testing.T) {
	app := newTestApp(t)

	rec := app.get(t, "/genres")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeRecords(t, rec), 2)
}

func TestLoginRequestsVerificationCode(t *testing.T) {
	app := newTestApp(t)

	rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	require.Len(t, app.mailer.sent, 1)
	assert.Equal(t, "a@b.c", app.mailer.sent[0].to)
	assert.Equal(t, "your verification code", app.mailer.sent[0].subject)

	code := regexp.MustCompile(`<h3>([0-9A-Z]{6})</h3>`).FindStringSubmatch(app.mailer.sent[0].html)
	require.Len(t, code, 2, "mail must contain the 6-character code")

	valid, err := app.users.CheckVerificationCode(context.Background(), "a@b.c", code[1])
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestLoginValidationErrors(t *testing.T) {
	app := newTestApp(t)

	rec := app.postLogin(t, `{"recaptcha": "ok"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "email not found")

	app.handler.recaptcha = &fakeRecaptcha{ok: false}
	rec = app.postLogin(t, `{"email": "a@b.c", "recaptcha": "bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recaptcha not found or invalid")
}

func TestLoginMailFailure(t *testing.T) {
	app := newTestApp(t)
	app.mailer.fail = true

	rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "sending mail failed")
}

func TestLoginWithCodeSetsSessionCookie(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.users.AddVerificationCode(ctx, "a@b.c", "ABC123"))

	rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok", "code": "ABC123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, sessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 604800, cookie.MaxAge)
	assert.Equal(t, "/", cookie.Path)

	email, ok := app.handler.tokens.Verify(cookie.Value)
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", email)
}

func TestLoginWithInvalidCode(t *testing.T) {
	app := newTestApp(t)

	rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok", "code": "WRONG1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification code invalid")

	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginRateLimited(t *testing.T) {
	app := newTestApp(t)

	for i := 0; i < loginMaxAttempts; i++ {
		rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := app.postLogin(t, `{"email": "a@b.c", "recaptcha": "ok"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "too many requests")
}

func TestFollowListRequiresSession(t *testing.T) {
	app := newTestApp(t)

	rec := app.get(t, "/followlist")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "user not authenticated")

	rec = app.get(t, "/followlist", &http.Cookie{Name: sessionCookieName, Value: "tampered"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFollowAndFollowList(t *testing.T) {
	app := newTestApp(t)
	cookie := app.sessionCookie(t, "a@b.c")

	rec := app.get(t, "/follow?showId=tt1&follow=true", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decodeRecords(t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "tt1", records[0]["showId"])
	assert.Equal(t, "Breaking Bad", records[0]["title"])

	rec = app.get(t, "/followlist", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeRecords(t, rec), 1)

	rec = app.get(t, "/follow?showId=tt1&follow=false", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeRecords(t, rec))
}

func TestFollowValidatesParams(t *testing.T) {
	app := newTestApp(t)
	cookie := app.sessionCookie(t, "a@b.c")

	rec := app.get(t, "/follow?follow=true", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.get(t, "/follow?showId=tt1&follow=yes", cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "showId or follow not found")

	rec = app.get(t, "/follow?showId=tt1&follow=true")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
