package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"entadmin.org/internal/auth"
	"entadmin.org/internal/catalog"
	"entadmin.org/internal/oauth"
)

type memUsers struct {
	mu    sync.Mutex
	byKey map[string]auth.User
	seq   int
}

func (m *memUsers) FindUserByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byKey[email]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) FindUserByID(_ context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byKey {
		if u.ID == id {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memUsers) InsertUser(_ context.Context, nu auth.NewUser) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nu.Email
	if _, ok := m.byKey[key]; ok {
		return auth.User{}, auth.ErrConflict
	}
	m.seq++
	now := time.Now().UTC()
	u := auth.User{
		ID:           fmt.Sprintf("user-%d", m.seq),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		Avatar:       nu.Avatar,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byKey[key] = u
	return u, nil
}

func (m *memUsers) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, u := range m.byKey {
		if u.ID == id {
			delete(m.byKey, k)
		}
	}
}

type memProducts struct {
	mu    sync.Mutex
	items map[string]catalog.Product
	seq   int
}

func (m *memProducts) ListProducts(context.Context) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]catalog.Product, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	return out, nil
}

func (m *memProducts) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (m *memProducts) CreateProduct(_ context.Context, in catalog.ProductInput) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := time.Now().UTC()
	p := catalog.Product{
		ID:          fmt.Sprintf("prod-%d", m.seq),
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		CategoryID:  in.CategoryID,
		ImageURL:    in.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.items[p.ID] = p
	return p, nil
}

func (m *memProducts) UpdateProduct(_ context.Context, id string, in catalog.ProductInput) (catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	p.Name, p.Description, p.Price = in.Name, in.Description, in.Price
	p.UpdatedAt = time.Now().UTC()
	m.items[id] = p
	return p, nil
}

func (m *memProducts) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return catalog.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

type testEnv struct {
	t        *testing.T
	baseURL  string
	client   *http.Client
	users    *memUsers
	products *memProducts
	tokens   *auth.TokenService
	resolver *auth.Resolver
}

type envOption func(*Options)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	users := &memUsers{byKey: map[string]auth.User{}}
	products := &memProducts{items: map[string]catalog.Product{}}
	hasher, err := auth.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	resolver, err := auth.NewResolver(users, hasher)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	tokens, err := auth.NewTokenService("test-access-secret", "test-refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	o := Options{
		Version:     "test",
		Tokens:      tokens,
		Resolver:    resolver,
		Products:    products,
		FrontendURL: "http://localhost:3000",
		RateBurst:   1000,
		RatePerSec:  1000,
	}
	for _, opt := range opts {
		opt(&o)
	}
	api, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	return &testEnv{
		t:        t,
		baseURL:  srv.URL,
		client:   client,
		users:    users,
		products: products,
		tokens:   tokens,
		resolver: resolver,
	}
}

func (e *testEnv) do(method, path string, body any, token string) *http.Response {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if raw, ok := body.(string); ok {
			payload = []byte(raw)
		} else if payload, err = json.Marshal(body); err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, r.StatusCode)
	}
}

func (e *testEnv) register(name, email, password, role string) sessionBody {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": password, "role": role,
	}, "")
	expectStatus(e.t, resp, http.StatusCreated)
	return decode[sessionBody](e.t, resp)
}

type sessionBody struct {
	Message      string         `json:"message"`
	User         map[string]any `json:"user"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
}

func TestRegisterLoginMeRefresh(t *testing.T) {
	env := newTestEnv(t)

	reg := env.register("Ann", "a@x.com", "secret123", "staff")
	if reg.Token == "" || reg.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", reg)
	}
	if _, leaked := reg.User["password_hash"]; leaked {
		t.Fatal("password digest leaked in register response")
	}
	if reg.User["role"] != "staff" || reg.User["email"] != "a@x.com" {
		t.Fatalf("unexpected user: %+v", reg.User)
	}
	userID := reg.User["id"]

	resp := env.do(http.MethodPost, "/api/auth/register", map[string]string{
		"name": "Ann", "email": "a@x.com", "password": "other", "role": "staff",
	}, "")
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
	if len(env.users.byKey) != 1 {
		t.Fatalf("expected a single stored user, got %d", len(env.users.byKey))
	}

	resp = env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.com", "password": "secret123"}, "")
	expectStatus(t, resp, http.StatusOK)
	login := decode[sessionBody](t, resp)
	if login.User["id"] != userID {
		t.Fatalf("login resolved a different user: %v vs %v", login.User["id"], userID)
	}

	resp = env.do(http.MethodGet, "/api/auth/me", nil, login.Token)
	expectStatus(t, resp, http.StatusOK)
	me := decode[map[string]any](t, resp)
	if me["id"] != userID || me["email"] != "a@x.com" {
		t.Fatalf("me returned %v", me)
	}
	if _, nested := me["user"]; nested {
		t.Fatalf("me must return the bare user, got %v", me)
	}

	resp = env.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": login.RefreshToken}, "")
	expectStatus(t, resp, http.StatusOK)
	refreshed := decode[map[string]string](t, resp)
	payload, ok := env.tokens.VerifyAccessToken(refreshed["token"])
	if !ok || payload.ID != userID || payload.Role != auth.RoleStaff {
		t.Fatalf("refreshed token invalid: %+v ok=%v", payload, ok)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register("Ann", "a@x.com", "secret123", "")

	wrong := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.com", "password": "wrong"}, "")
	missing := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "nobody@x.com", "password": "wrong"}, "")
	expectStatus(t, wrong, http.StatusUnauthorized)
	expectStatus(t, missing, http.StatusUnauthorized)

	a := decode[map[string]any](t, wrong)
	b := decode[map[string]any](t, missing)
	if a["error"] != "Invalid credentials" || a["error"] != b["error"] {
		t.Fatalf("failure bodies differ: %v vs %v", a, b)
	}
	if len(a) != len(b) {
		t.Fatalf("failure shapes differ: %v vs %v", a, b)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]any{
		"missing password": map[string]string{"name": "Ann", "email": "a@x.com"},
		"unknown role":     map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw", "role": "root"},
		"unknown field":    `{"name":"Ann","email":"a@x.com","password":"pw","admin":true}`,
		"empty body":       "",
	}
	for name, body := range cases {
		resp := env.do(http.MethodPost, "/api/auth/register", body, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
		out := decode[map[string]any](t, resp)
		if out["error"] == "" || out["request_id"] == "" {
			t.Fatalf("%s: expected error and request_id, got %v", name, out)
		}
	}
	if len(env.users.byKey) != 0 {
		t.Fatalf("validation failures stored users")
	}
}

func TestRefreshRejectsAccessTokenAndDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register("Ann", "a@x.com", "secret123", "")

	resp := env.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": reg.Token}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	env.users.remove(reg.User["id"].(string))
	resp = env.do(http.MethodPost, "/api/auth/refresh", map[string]string{"refreshToken": reg.RefreshToken}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/api/auth/me", nil, reg.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestMeRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	other, err := auth.NewTokenService("foreign-access", "foreign-refresh")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	foreign, _, err := other.IssueAccessToken(auth.Payload{ID: "user-1", Email: "a@x.com", Role: auth.RoleAdmin})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	for name, header := range map[string]string{
		"missing":      "",
		"basic scheme": "Basic YTpi",
		"bare token":   foreign,
		"wrong secret": "Bearer " + foreign,
	} {
		req, _ := http.NewRequest(http.MethodGet, env.baseURL+"/api/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := env.client.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: expected WWW-Authenticate header", name)
		}
	}
}

func TestLogoutAndProviders(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/auth/logout", nil, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/api/auth/providers", nil, "")
	expectStatus(t, resp, http.StatusOK)
	out := decode[map[string][]string](t, resp)
	if len(out["providers"]) != 0 {
		t.Fatalf("expected no providers, got %v", out["providers"])
	}

	resp = env.do(http.MethodGet, "/api/auth/login", nil, "")
	expectStatus(t, resp, http.StatusMethodNotAllowed)
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/health", "/healthz", "/readyz"} {
		resp := env.do(http.MethodGet, path, nil, "")
		expectStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	failing := newTestEnv(t, func(o *Options) { o.Ready = failingReadiness{} })
	resp := failing.do(http.MethodGet, "/readyz", nil, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()

	resp = env.do(http.MethodGet, "/metrics", nil, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return fmt.Errorf("boom") }

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without dependencies")
	}
	env := newTestEnv(t)
	_, err := New(Options{
		Tokens:    env.tokens,
		Resolver:  env.resolver,
		Products:  env.products,
		Providers: oauth.Providers{GitHub: &oauth.GitHubStrategy{}},
	})
	if err == nil {
		t.Fatal("expected error for providers without state handling")
	}
}
