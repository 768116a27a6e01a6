// Package middleware содержит HTTP middleware сервиса лотереи.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/event-lottery/internal/model"
	"github.com/mmeshcher/event-lottery/internal/validation"
)

type contextKey string

const candidateKey contextKey = "candidate"

const (
	sessionCookieName = "lottery_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// Sessions проверяет подписанный cookie сессии участника.
type Sessions struct {
	secretKey []byte
}

// NewSessions создаёт Sessions с указанным секретом. При пустом секрете
// генерируется случайный ключ, и сессии не переживают перезапуск.
func NewSessions(secret string) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = []byte(rand.Text())
	}

	return &Sessions{
		secretKey: key,
	}
}

// Middleware пропускает запрос только с действительной сессией и кладёт
// идентификатор участника в контекст.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		c, ok := s.parse(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCandidate(r.Context(), c)))
	})
}

// SetSessionCookie выдаёт cookie сессии для участника.
func (s *Sessions) SetSessionCookie(w http.ResponseWriter, c model.Candidate) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    string(c) + "." + s.sign(string(c)),
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) sign(id string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

// Идентификатор может содержать точки, поэтому подпись отделяется по последней.
func (s *Sessions) parse(value string) (model.Candidate, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 {
		return "", false
	}

	id, signature := value[:i], value[i+1:]
	if !hmac.Equal([]byte(signature), []byte(s.sign(id))) {
		return "", false
	}
	if !validation.IsValidCandidateID(id) {
		return "", false
	}
	return model.Candidate(id), true
}

// WithCandidate возвращает контекст с идентификатором участника.
func WithCandidate(ctx context.Context, c model.Candidate) context.Context {
	return context.WithValue(ctx, candidateKey, c)
}

// GetCandidateFromContext извлекает идентификатор участника из контекста запроса.
func GetCandidateFromContext(ctx context.Context) (model.Candidate, bool) {
	c, ok := ctx.Value(candidateKey).(model.Candidate)
	return c, ok
}
