package handlers

import "net/http"

const sessionCookieName = "jwt"

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   h.jwtExpireSeconds,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// sessionEmail returns the email from a valid session cookie, or false when
// the cookie is absent or its token does not verify.
func (h *Handler) sessionEmail(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return h.tokens.Verify(c.Value)
}
