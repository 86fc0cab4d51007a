// Package handlers wires HTTP routing and API handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/handsomefox/tvratings/internal/auth"
	"github.com/handsomefox/tvratings/internal/logger"
	"github.com/handsomefox/tvratings/internal/store"
)

const (
	loginMaxAttempts = 3
	loginWindow      = time.Minute
)

// CatalogSource hands out the live catalog snapshot. Handlers capture the
// catalog once per request so a concurrent snapshot swap cannot pull it out
// from under them mid-handler.
type CatalogSource interface {
	Current() *store.Catalog
}

// RecaptchaVerifier checks a client challenge token.
type RecaptchaVerifier interface {
	Verify(ctx context.Context, token string) bool
}

// Mailer delivers one HTML email.
type Mailer interface {
	Send(to, subject, html string) error
}

type Handler struct {
	catalogs         CatalogSource
	users            *store.Users
	mailer           Mailer
	recaptcha        RecaptchaVerifier
	tokens           *auth.TokenManager
	jwtExpireSeconds int
	limiter          *loginLimiter
}

type Config struct {
	Catalogs         CatalogSource
	Users            *store.Users
	Mailer           Mailer
	Recaptcha        RecaptchaVerifier
	JWTSecret        string
	JWTExpireSeconds int
}

func New(cfg *Config) (*Handler, error) {
	if cfg.Catalogs == nil {
		return nil, errors.New("catalog source is required")
	}
	if cfg.Users == nil {
		return nil, errors.New("user store is required")
	}
	if cfg.Mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if cfg.Recaptcha == nil {
		return nil, errors.New("recaptcha verifier is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}

	return &Handler{
		catalogs:         cfg.Catalogs,
		users:            cfg.Users,
		mailer:           cfg.Mailer,
		recaptcha:        cfg.Recaptcha,
		tokens:           auth.NewTokenManager(cfg.JWTSecret),
		jwtExpireSeconds: cfg.JWTExpireSeconds,
		limiter:          newLoginLimiter(loginMaxAttempts, loginWindow),
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Method(http.MethodGet, "/", Adapt(h.getRoot))
	r.Method(http.MethodGet, "/search", Adapt(h.getSearch))
	r.Method(http.MethodGet, "/show", Adapt(h.getShow))
	r.Method(http.MethodGet, "/genres", Adapt(h.getGenres))
	r.Method(http.MethodPost, "/login", Adapt(h.postLogin))
	r.Method(http.MethodGet, "/followlist", Adapt(h.getFollowList))
	r.Method(http.MethodGet, "/follow", Adapt(h.getFollow))
}

func (h *Handler) getRoot(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := w.Write([]byte("hello world"))
	return err
}

func (h *Handler) getSearch(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	params := store.SearchParams{
		Type:        q.Get("type"),
		TitleSearch: q.Get("titleSearch"),
		MinVotes:    q.Get("minVotes"),
		MaxVotes:    q.Get("maxVotes"),
		MinRating:   q.Get("minRating"),
		MaxRating:   q.Get("maxRating"),
		MinYear:     q.Get("minYear"),
		MaxYear:     q.Get("maxYear"),
		MinDuration: q.Get("minDuration"),
		MaxDuration: q.Get("maxDuration"),
		Genres:      q.Get("genres"),
		SortColumn:  q.Get("sortColumn"),
		SortOrder:   q.Get("sortOrder"),
		PageNumber:  q.Get("pageNumber"),
		PageLimit:   q.Get("pageLimit"),
	}

	records, err := h.catalogs.Current().Search(r.Context(), params)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, records)
	return nil
}

func (h *Handler) getShow(w http.ResponseWriter, r *http.Request) error {
	showID := r.URL.Query().Get("showId")
	if showID == "" {
		return badRequest("showId not found")
	}

	catalog := h.catalogs.Current()
	show, err := catalog.Show(r.Context(), showID)
	if err != nil {
		return err
	}
	if show == nil {
		return notFound(fmt.Sprintf("showId %s not found", showID))
	}
	episodes, err := catalog.ShowEpisodes(r.Context(), showID)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"show":     show,
		"episodes": episodes,
	})
	return nil
}

func (h *Handler) getGenres(w http.ResponseWriter, r *http.Request) error {
	records, err := h.catalogs.Current().Genres(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, records)
	return nil
}

type loginRequest struct {
	Email     string `json:"email"`
	Recaptcha string `json:"recaptcha"`
	Code      string `json:"code"`
}

func (h *Handler) postLogin(w http.ResponseWriter, r *http.Request) error {
	if !h.limiter.allow(clientIP(r)) {
		return tooManyRequests("too many requests, try again in a minute")
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Email == "" {
		return badRequest("email not found")
	}
	if !h.recaptcha.Verify(r.Context(), req.Recaptcha) {
		return badRequest("recaptcha not found or invalid")
	}

	if req.Code == "" {
		return h.sendVerificationCode(w, r, req.Email)
	}
	return h.verifyCode(w, r, req.Email, req.Code)
}

func (h *Handler) sendVerificationCode(w http.ResponseWriter, r *http.Request, email string) error {
	code, err := auth.NewVerificationCode()
	if err != nil {
		return err
	}
	if err := h.users.AddVerificationCode(r.Context(), email, code); err != nil {
		return err
	}
	slog.Info("sending verification code", slog.String("email", email))

	body := "<html><h5>your verification code: </h5><h3>" + code + "</h3></html>"
	if err := h.mailer.Send(email, "your verification code", body); err != nil {
		slog.Error("sending verification mail failed", slog.String("email", email), logger.Error(err))
		return internal("sending mail failed")
	}

	writeJSON(w, http.StatusOK, struct{}{})
	return nil
}

func (h *Handler) verifyCode(w http.ResponseWriter, r *http.Request, email, code string) error {
	valid, err := h.users.CheckVerificationCode(r.Context(), email, code)
	if err != nil {
		return err
	}
	slog.Info("checked verification code", slog.String("email", email), slog.Bool("valid", valid))
	if !valid {
		return badRequest("verification code invalid")
	}

	token, err := h.tokens.Issue(email)
	if err != nil {
		return err
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, struct{}{})
	return nil
}

func (h *Handler) getFollowList(w http.ResponseWriter, r *http.Request) error {
	email, ok := h.sessionEmail(r)
	if !ok {
		return unauthorized("user not authenticated")
	}

	follows, err := h.users.FollowedShows(r.Context(), email, h.catalogs.Current().Path())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, follows)
	return nil
}

func (h *Handler) getFollow(w http.ResponseWriter, r *http.Request) error {
	email, ok := h.sessionEmail(r)
	if !ok {
		return unauthorized("user not authenticated")
	}

	showID := r.URL.Query().Get("showId")
	follow, err := parseBoolStrict(r.URL.Query().Get("follow"))
	if showID == "" || err != nil {
		return badRequest("showId or follow not found")
	}

	if follow {
		err = h.users.FollowShow(r.Context(), email, showID)
	} else {
		err = h.users.UnfollowShow(r.Context(), email, showID)
	}
	if err != nil {
		return err
	}

	follows, err := h.users.FollowedShows(r.Context(), email, h.catalogs.Current().Path())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, follows)
	return nil
}
