package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/config"
	"github.com/lockdown-auth/lockdown/internal/models"
	pkghttp "github.com/lockdown-auth/lockdown/pkg/http"
)

// SlugFieldName is the hidden form field carrying the slug on POSTs submitted
// from a form that was served through the obfuscated entry point
const SlugFieldName = "ld_slug"

// AttemptSink is the slice of the attempt log the gate writes blocked hits to
type AttemptSink interface {
	Record(ctx context.Context, username, ip string, outcome models.Outcome, message, userAgent string) uuid.UUID
}

// SessionChecker reports whether the request carries a valid authenticated
// session, which bypasses the obfuscation gate entirely
type SessionChecker func(r *http.Request) bool

// ObfuscationGate hides the canonical login path behind a secret slug.
// Direct requests to the canonical path without the slug marker are denied
// and redirected; requests through the obfuscated entry are rewritten to the
// canonical path so downstream handlers never know the difference.
type ObfuscationGate struct {
	cfg      config.ObfuscationConfig
	ipCfg    *pkghttp.IPConfig
	attempts AttemptSink
	session  SessionChecker
	logger   *slog.Logger
}

// NewObfuscationGate creates a new ObfuscationGate. session may be nil.
func NewObfuscationGate(cfg config.ObfuscationConfig, ipCfg *pkghttp.IPConfig, attempts AttemptSink, session SessionChecker, logger *slog.Logger) *ObfuscationGate {
	return &ObfuscationGate{
		cfg:      cfg,
		ipCfg:    ipCfg,
		attempts: attempts,
		session:  session,
		logger:   logger,
	}
}

// Handler returns the middleware
func (g *ObfuscationGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if g.session != nil && g.session(r) {
			next.ServeHTTP(w, r)
			return
		}

		switch {
		case g.isObfuscatedEntry(r):
			g.rewriteToCanonical(r)
			next.ServeHTTP(w, r)

		case g.isCanonicalLoginPath(r.URL.Path):
			if g.hasSlugMarker(r) {
				next.ServeHTTP(w, r)
				return
			}
			g.deny(w, r, "direct login path access")

		case g.isAdminPath(r.URL.Path):
			if r.Header.Get("Authorization") != "" {
				// Bearer requests fall through to the admin middleware,
				// which verifies the token itself
				next.ServeHTTP(w, r)
				return
			}
			g.deny(w, r, "unauthenticated admin path access")

		default:
			next.ServeHTTP(w, r)
		}
	})
}

// isObfuscatedEntry reports whether the request addresses the hidden entry
// point, either as a bare query parameter (/?slug) or a pretty path (/slug)
func (g *ObfuscationGate) isObfuscatedEntry(r *http.Request) bool {
	switch g.cfg.URLStyle {
	case config.URLStyleQueryParam:
		if r.URL.Path != "/" {
			return false
		}
		values, err := url.ParseQuery(r.URL.RawQuery)
		if err != nil {
			return false
		}
		_, ok := values[g.cfg.Slug]
		return ok

	case config.URLStylePrettyPath:
		trimmed := strings.Trim(r.URL.Path, "/")
		return trimmed == g.cfg.Slug

	default:
		return false
	}
}

func (g *ObfuscationGate) isCanonicalLoginPath(path string) bool {
	return path == g.cfg.LoginPath
}

func (g *ObfuscationGate) isAdminPath(path string) bool {
	prefix := g.cfg.AdminPathPrefix
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// hasSlugMarker reports whether a canonical-path request proves knowledge of
// the slug, via the query string or the hidden form field on POSTs
func (g *ObfuscationGate) hasSlugMarker(r *http.Request) bool {
	values, err := url.ParseQuery(r.URL.RawQuery)
	if err == nil {
		if _, ok := values[g.cfg.Slug]; ok {
			return true
		}
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if r.PostFormValue(SlugFieldName) == g.cfg.Slug {
				return true
			}
		}
	}

	return false
}

// rewriteToCanonical points the request at the canonical login path so the
// login handlers serve it transparently
func (g *ObfuscationGate) rewriteToCanonical(r *http.Request) {
	r.URL.Path = g.cfg.LoginPath
	r.URL.RawPath = ""
}

func (g *ObfuscationGate) deny(w http.ResponseWriter, r *http.Request, reason string) {
	ip := pkghttp.ResolveClientIP(r, g.ipCfg)
	g.attempts.Record(r.Context(), "", ip, models.OutcomeBlocked, reason, r.UserAgent())
	g.logger.Warn("hidden path probe denied",
		slog.String("path", r.URL.Path),
		slog.String("ip_address", ip),
		slog.String("reason", reason))

	switch g.cfg.InvalidRedirect {
	case config.RedirectCustomURL:
		http.Redirect(w, r, g.cfg.RedirectURL, http.StatusFound)
	default:
		// Indistinguishable from a page that does not exist
		http.NotFound(w, r)
	}
}
