package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/coffersTech/nanosearch/internal/controller"
)

// session is a logged-in web user.
type session struct {
	username string
	expires  time.Time
}

type permission int

const (
	permRead permission = iota
	permWrite
	permAdmin
)

// principal is whoever made the request.
type principal struct {
	name string
	role string // user role, or "token:<type>" for API tokens
}

type principalKey struct{}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// auth admits requests carrying an API token or session that grants perm.
// Read tokens may search, write tokens may ingest. Viewers may only read;
// admins may do everything.
func (s *Server) auth(perm permission, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "missing token")
			return
		}

		if t, ok := s.metaStore.GetTokenByValue(token); ok {
			allowed := (perm == permRead && t.Type == controller.TokenRead) ||
				(perm == permWrite && t.Type == controller.TokenWrite)
			if !allowed {
				http.Error(w, "Forbidden: token type "+t.Type+" not allowed here", http.StatusForbidden)
				return
			}
			p := principal{name: t.Name, role: "token:" + t.Type}
			next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
			return
		}

		username, ok := s.lookupSession(token)
		if !ok {
			unauthorized(w, "invalid or expired token")
			return
		}
		user, ok := s.metaStore.GetUser(username)
		if !ok {
			unauthorized(w, "user no longer exists")
			return
		}
		if perm != permRead && user.Role == controller.RoleViewer {
			http.Error(w, "Forbidden: admin role required", http.StatusForbidden)
			return
		}
		p := principal{name: user.Username, role: user.Role}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="NanoSearch"`)
	http.Error(w, "Unauthorized: "+msg, http.StatusUnauthorized)
}

func (s *Server) lookupSession(token string) (string, bool) {
	s.sessionsMu.RLock()
	sess, ok := s.sessions[token]
	s.sessionsMu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(sess.expires) {
		s.sessionsMu.Lock()
		delete(s.sessions, token)
		s.sessionsMu.Unlock()
		return "", false
	}
	return sess.username, true
}

func (s *Server) createSession(username string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)

	s.sessionsMu.Lock()
	s.sessions[token] = session{username: username, expires: time.Now().Add(s.sessionTTL)}
	s.sessionsMu.Unlock()
	return token, nil
}
