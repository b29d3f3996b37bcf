package nethttp

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jassus213/go-lockout/guard"
)

// AdminOption configures AdminHandler.
type AdminOption func(*adminConfig)

type adminConfig struct {
	token   string
	origins []string
}

// WithAdminToken requires "Authorization: Bearer <token>" on every admin request.
func WithAdminToken(token string) AdminOption {
	return func(c *adminConfig) {
		c.token = token
	}
}

// WithAllowedOrigins enables CORS for the given origins, for browser-based admin consoles.
func WithAllowedOrigins(origins ...string) AdminOption {
	return func(c *adminConfig) {
		c.origins = append(c.origins, origins...)
	}
}

// AdminHandler serves the administrative endpoints relative to its mount point:
//
//	GET    /limits
//	GET    /limits/{policy}/blocked
//	POST   /limits/{policy}/principals/{principal}/block
//	DELETE /limits/{policy}/principals/{principal}
//
// Example:
//
//	mux.Handle("/admin/", http.StripPrefix("/admin", nethttp.AdminHandler(admin, nethttp.WithAdminToken(token))))
func AdminHandler(admin *guard.Admin, opts ...AdminOption) http.Handler {
	cfg := &adminConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	if len(cfg.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !guard.Authorized(req, cfg.token) {
				writeJSON(w, http.StatusUnauthorized, guard.NewUnauthorized())
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Get("/limits", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"policies": admin.Policies()})
	})

	r.Get("/limits/{policy}/blocked", func(w http.ResponseWriter, req *http.Request) {
		policy := chi.URLParam(req, "policy")
		entries, err := admin.Blocked(req.Context(), policy)
		if err != nil {
			writeAdminError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"policy": policy, "blocked": entries})
	})

	r.Post("/limits/{policy}/principals/{principal}/block", func(w http.ResponseWriter, req *http.Request) {
		var body guard.BlockRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		if err := admin.Block(req.Context(), chi.URLParam(req, "policy"), chi.URLParam(req, "principal"), body); err != nil {
			writeAdminError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/limits/{policy}/principals/{principal}", func(w http.ResponseWriter, req *http.Request) {
		if err := admin.Unblock(req.Context(), chi.URLParam(req, "policy"), chi.URLParam(req, "principal")); err != nil {
			writeAdminError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func writeAdminError(w http.ResponseWriter, err error) {
	writeJSON(w, guard.AdminStatus(err), map[string]string{"message": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
