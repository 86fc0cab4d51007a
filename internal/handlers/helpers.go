package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if payload == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json failed", slog.Any("err", err))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected trailing json")
		}
		return err
	}
	return nil
}

// parseBoolStrict accepts only the literals "true" and "false".
func parseBoolStrict(raw string) (bool, error) {
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, errors.New("not a boolean")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func badRequest(msg string) error   { return &Error{Status: http.StatusBadRequest, Message: msg} }
func unauthorized(msg string) error { return &Error{Status: http.StatusUnauthorized, Message: msg} }
func notFound(msg string) error     { return &Error{Status: http.StatusNotFound, Message: msg} }
func tooManyRequests(msg string) error {
	return &Error{Status: http.StatusTooManyRequests, Message: msg}
}
func internal(msg string) error {
	return &Error{Status: http.StatusInternalServerError, Message: msg}
}
