package middleware

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrace/xtrace/internal/domain"
)

// ContextKey namespaces fiber.Ctx locals set by this middleware.
type ContextKey string

const (
	ContextKeyProjectID ContextKey = "projectID"
)

// compatPaths lists the two routes spec.md §6 allows through
// unauthenticated when no public/secret key pair is configured at all;
// on these routes a missing or non-matching credential, bearer or
// basic, is then let through as the default project.
var compatPaths = map[string]bool{
	"/api/public/projects":       true,
	"/api/public/otel/v1/traces": true,
}

// ProjectKeyLister resolves the bcrypt-hashed key pairs checked by HTTP
// Basic auth for the multi-project supplement (SPEC_FULL.md §3).
type ProjectKeyLister interface {
	ListKeyed(ctx context.Context) ([]domain.Project, error)
}

// Auth implements spec.md §6's auth boundary: `Bearer <token>` matched
// against the configured bearer token, or `Basic <user:pass>` matched
// against the configured default key pair or, for the multi-project
// supplement, any project's stored bcrypt-hashed key pair.
type Auth struct {
	bearerToken      string
	defaultProjectID string
	defaultPublicKey string
	defaultSecretKey string
	projects         ProjectKeyLister
}

// NewAuth creates the auth middleware. projects may be nil when the
// multi-project supplement's repository isn't wired.
func NewAuth(bearerToken, defaultProjectID, defaultPublicKey, defaultSecretKey string, projects ProjectKeyLister) *Auth {
	return &Auth{
		bearerToken:      bearerToken,
		defaultProjectID: defaultProjectID,
		defaultPublicKey: defaultPublicKey,
		defaultSecretKey: defaultSecretKey,
		projects:         projects,
	}
}

// keysConfigured reports whether any public/secret key pair — default
// or per-project — has been configured at all. When none has, the two
// compat paths bypass auth entirely (spec.md §6).
func (a *Auth) keysConfigured(ctx context.Context) bool {
	if a.defaultPublicKey != "" || a.defaultSecretKey != "" {
		return true
	}
	if a.projects == nil {
		return false
	}
	keyed, err := a.projects.ListKeyed(ctx)
	return err == nil && len(keyed) > 0
}

// Require validates the Authorization header and, on success, stores
// the resolved project id in c.Locals(ContextKeyProjectID).
func (a *Auth) Require() fiber.Handler {
	return func(c *fiber.Ctx) error {
		projectID, ok := a.authenticate(c)
		if !ok {
			if compatPaths[c.Path()] && !a.keysConfigured(c.Context()) {
				c.Locals(string(ContextKeyProjectID), a.defaultProjectID)
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Unauthorized"})
		}
		c.Locals(string(ContextKeyProjectID), projectID)
		return c.Next()
	}
}

func (a *Auth) authenticate(c *fiber.Ctx) (string, bool) {
	return a.AuthenticateHeader(c.Context(), c.Get("Authorization"))
}

// AuthenticateHeader implements spec.md §6's bearer/basic check against
// a raw Authorization header value and a plain context.Context, with no
// fiber dependency — shared by the HTTP middleware above and, through
// AuthenticateOTLP, the optional gRPC OTLP receiver's Export method
// (SPEC_FULL.md §2), which has no fiber.Ctx to read a header from.
func (a *Auth) AuthenticateHeader(ctx context.Context, auth string) (string, bool) {
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		if a.bearerToken != "" && token == a.bearerToken {
			return a.defaultProjectID, true
		}
		return "", false
	}

	if encoded, ok := strings.CutPrefix(auth, "Basic "); ok {
		user, pass, ok := decodeBasic(encoded)
		if !ok {
			return "", false
		}
		if a.defaultPublicKey != "" && user == a.defaultPublicKey && pass == a.defaultSecretKey {
			return a.defaultProjectID, true
		}
		return a.authenticateProjectKey(ctx, user, pass)
	}

	return "", false
}

// authenticateProjectKey implements the multi-project supplement
// (SPEC_FULL.md §3): HTTP Basic checked against bcrypt-hashed per-project
// key pairs rather than the global default.
func (a *Auth) authenticateProjectKey(ctx context.Context, user, pass string) (string, bool) {
	if a.projects == nil {
		return "", false
	}
	keyed, err := a.projects.ListKeyed(ctx)
	if err != nil {
		return "", false
	}
	for _, p := range keyed {
		if bcrypt.CompareHashAndPassword([]byte(p.PublicKeyHash), []byte(user)) != nil {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(p.SecretKeyHash), []byte(pass)) != nil {
			continue
		}
		return p.ID, true
	}
	return "", false
}

func decodeBasic(encoded string) (user, pass string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}

// AuthenticateOTLP resolves a project id for an OTLP export, honoring
// the same compat fallback Require() gives "/api/public/otel/v1/traces"
// when no key pair is configured anywhere: the gRPC receiver has no
// path-based routing to hook that fallback into, so it calls this
// directly instead of Require().
func (a *Auth) AuthenticateOTLP(ctx context.Context, authHeader string) (string, bool) {
	if projectID, ok := a.AuthenticateHeader(ctx, authHeader); ok {
		return projectID, true
	}
	if !a.keysConfigured(ctx) {
		return a.defaultProjectID, true
	}
	return "", false
}

// GetProjectID returns the project id the auth middleware resolved for
// this request.
func GetProjectID(c *fiber.Ctx) (string, bool) {
	projectID, ok := c.Locals(string(ContextKeyProjectID)).(string)
	return projectID, ok
}
