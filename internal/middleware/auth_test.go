package middleware

import (
	"context"
	"encoding/base64"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrace/xtrace/internal/domain"
)

type fakeProjectLister struct {
	projects []domain.Project
	err      error
}

func (f *fakeProjectLister) ListKeyed(ctx context.Context) ([]domain.Project, error) {
	return f.projects, f.err
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func newApp(auth *Auth) *fiber.App {
	app := fiber.New()
	app.Use(auth.Require())
	app.All("/*", func(c *fiber.Ctx) error {
		projectID, _ := GetProjectID(c)
		return c.SendString(projectID)
	})
	return app
}

func TestAuth_BearerToken(t *testing.T) {
	auth := NewAuth("secret-token", "default", "", "", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "default", string(body))
}

func TestAuth_BearerToken_Mismatch(t *testing.T) {
	auth := NewAuth("secret-token", "default", "", "", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_DefaultBasicCredentials(t *testing.T) {
	auth := NewAuth("", "default", "pub", "sec", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	req.Header.Set("Authorization", basicHeader("pub", "sec"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuth_NoCredential_ReturnsUnauthorized(t *testing.T) {
	auth := NewAuth("secret-token", "default", "", "", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Unauthorized")
}

func TestAuth_CompatPathBypassWhenKeysUnconfigured(t *testing.T) {
	auth := NewAuth("secret-token", "default", "", "", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/projects", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req2 := httptest.NewRequest("POST", "/api/public/otel/v1/traces", nil)
	resp2, err := app.Test(req2)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp2.StatusCode)
}

func TestAuth_CompatPathStillEnforcedWhenKeysConfigured(t *testing.T) {
	auth := NewAuth("secret-token", "default", "pub", "sec", nil)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/projects", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_MultiProjectKeyPair(t *testing.T) {
	pubHash, _ := bcrypt.GenerateFromPassword([]byte("proj-pub"), bcrypt.MinCost)
	secHash, _ := bcrypt.GenerateFromPassword([]byte("proj-sec"), bcrypt.MinCost)
	lister := &fakeProjectLister{projects: []domain.Project{
		{ID: "proj-2", PublicKeyHash: string(pubHash), SecretKeyHash: string(secHash)},
	}}

	auth := NewAuth("secret-token", "default", "", "", lister)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	req.Header.Set("Authorization", basicHeader("proj-pub", "proj-sec"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "proj-2", string(body))
}

func TestAuth_MultiProjectKeyPair_WrongSecret(t *testing.T) {
	pubHash, _ := bcrypt.GenerateFromPassword([]byte("proj-pub"), bcrypt.MinCost)
	secHash, _ := bcrypt.GenerateFromPassword([]byte("proj-sec"), bcrypt.MinCost)
	lister := &fakeProjectLister{projects: []domain.Project{
		{ID: "proj-2", PublicKeyHash: string(pubHash), SecretKeyHash: string(secHash)},
	}}

	auth := NewAuth("secret-token", "default", "", "", lister)
	app := newApp(auth)

	req := httptest.NewRequest("GET", "/api/public/traces", nil)
	req.Header.Set("Authorization", basicHeader("proj-pub", "wrong-sec"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateOTLP_FallsBackWhenKeysUnconfigured(t *testing.T) {
	auth := NewAuth("secret-token", "default", "", "", nil)

	projectID, ok := auth.AuthenticateOTLP(context.Background(), "")
	assert.True(t, ok)
	assert.Equal(t, "default", projectID)
}

func TestAuthenticateOTLP_RejectsWhenKeysConfigured(t *testing.T) {
	auth := NewAuth("secret-token", "default", "pub", "sec", nil)

	_, ok := auth.AuthenticateOTLP(context.Background(), "")
	assert.False(t, ok)
}

func TestAuthenticateOTLP_HonorsValidBearer(t *testing.T) {
	auth := NewAuth("secret-token", "default", "pub", "sec", nil)

	projectID, ok := auth.AuthenticateOTLP(context.Background(), "Bearer secret-token")
	assert.True(t, ok)
	assert.Equal(t, "default", projectID)
}

func TestGetProjectID(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		c.Locals(string(ContextKeyProjectID), "proj-1")
		id, ok := GetProjectID(c)
		assert.True(t, ok)
		assert.Equal(t, "proj-1", id)
		return c.SendStatus(200)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	_, err := app.Test(req)
	require.NoError(t, err)
}

func TestGetProjectID_Missing(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		_, ok := GetProjectID(c)
		assert.False(t, ok)
		return c.SendStatus(200)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	_, err := app.Test(req)
	require.NoError(t, err)
}
