package oauthapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Abraxas-365/manifesto/pkg/account"
	"github.com/Abraxas-365/manifesto/pkg/kernel"
	"github.com/Abraxas-365/manifesto/pkg/oauthcontainer"
	"github.com/gofiber/fiber/v2"
)

type fakeUserRepository struct {
	byID map[kernel.UserID]*account.User
}

func (f *fakeUserRepository) Save(_ context.Context, u *account.User) error {
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUserRepository) FindByID(_ context.Context, id kernel.UserID) (*account.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, account.ErrInvalidCredentials()
	}
	return u, nil
}
func (f *fakeUserRepository) FindByUsername(_ context.Context, _ string) (*account.User, error) {
	return nil, account.ErrInvalidCredentials()
}
func (f *fakeUserRepository) FindByEmail(_ context.Context, _ string) (*account.User, error) {
	return nil, account.ErrInvalidCredentials()
}
func (f *fakeUserRepository) List(_ context.Context, _ kernel.PaginationOptions, _ account.UserFilter) (kernel.Paginated[*account.User], error) {
	return kernel.Paginated[*account.User]{}, nil
}
func (f *fakeUserRepository) Delete(_ context.Context, id kernel.UserID) error {
	delete(f.byID, id)
	return nil
}

func newUserinfoTestApp(ac *kernel.AuthContext, users *fakeUserRepository) *fiber.App {
	h := &Handlers{c: &oauthcontainer.Container{Users: users}}
	app := fiber.New()
	app.Get("/userinfo", func(c *fiber.Ctx) error {
		c.Locals("auth", ac)
		return h.userinfo(c)
	})
	return app
}

func decodeUserinfo(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, b)
	}
	return body
}

func TestUserinfoOmitsProfileAndEmailWithoutScope(t *testing.T) {
	email := "alice@example.com"
	userID := kernel.NewUserID("u1")
	users := &fakeUserRepository{byID: map[kernel.UserID]*account.User{
		userID: {ID: userID, Username: "alice", DisplayName: "Alice A", Email: &email, EmailVerified: true},
	}}
	ac := &kernel.AuthContext{UserID: &userID, Scopes: []string{"openid"}}

	app := newUserinfoTestApp(ac, users)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/userinfo", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decodeUserinfo(t, resp)

	if body["sub"] != userID.String() {
		t.Fatalf("expected sub to be populated, got %+v", body)
	}
	for _, key := range []string{"preferred_username", "name", "email", "email_verified"} {
		if _, ok := body[key]; ok {
			t.Fatalf("expected %q to be omitted without its granting scope, got %+v", key, body)
		}
	}
}

func TestUserinfoIncludesProfileClaimsWithProfileScope(t *testing.T) {
	userID := kernel.NewUserID("u1")
	users := &fakeUserRepository{byID: map[kernel.UserID]*account.User{
		userID: {ID: userID, Username: "alice", DisplayName: "Alice A"},
	}}
	ac := &kernel.AuthContext{UserID: &userID, Scopes: []string{"openid", "profile"}}

	app := newUserinfoTestApp(ac, users)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/userinfo", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decodeUserinfo(t, resp)

	if body["preferred_username"] != "alice" || body["name"] != "Alice A" {
		t.Fatalf("expected profile claims to be present with the profile scope, got %+v", body)
	}
	if _, ok := body["email"]; ok {
		t.Fatal("expected email claims to still be omitted without the email scope")
	}
}

func TestUserinfoIncludesEmailClaimsWithEmailScope(t *testing.T) {
	email := "alice@example.com"
	userID := kernel.NewUserID("u1")
	users := &fakeUserRepository{byID: map[kernel.UserID]*account.User{
		userID: {ID: userID, Username: "alice", Email: &email, EmailVerified: true},
	}}
	ac := &kernel.AuthContext{UserID: &userID, Scopes: []string{"openid", "email"}}

	app := newUserinfoTestApp(ac, users)
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/userinfo", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body := decodeUserinfo(t, resp)

	if body["email"] != email || body["email_verified"] != true {
		t.Fatalf("expected email claims to be present with the email scope, got %+v", body)
	}
	if _, ok := body["preferred_username"]; ok {
		t.Fatal("expected profile claims to still be omitted without the profile scope")
	}
}
