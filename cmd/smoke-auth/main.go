package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"entadmin.org/internal/ids"
)

type session struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body any, want int, out any) {
	var payload io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, path, err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		log.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := sonic.Unmarshal(raw, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func main() {
	base := os.Getenv("ENTADMIN_API_URL")
	if base == "" {
		base = "http://localhost:5000"
	}
	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := "smoke-" + strings.ToLower(ids.New()) + "@example.com"
	password := "smoke-" + ids.New()

	var reg session
	c.call(ctx, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Smoke Test", "email": email, "password": password, "role": "staff",
	}, http.StatusCreated, &reg)
	if reg.Token == "" || reg.RefreshToken == "" || reg.User.Role != "staff" {
		log.Fatalf("register returned an incomplete session: %+v", reg)
	}

	c.call(ctx, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Smoke Test", "email": email, "password": password,
	}, http.StatusConflict, nil)

	var login session
	c.call(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	}, http.StatusOK, &login)
	if login.User.ID != reg.User.ID {
		log.Fatalf("login resolved %s, registered %s", login.User.ID, reg.User.ID)
	}
	c.call(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "wrong",
	}, http.StatusUnauthorized, nil)

	var me struct {
		ID string `json:"id"`
	}
	c.call(ctx, http.MethodGet, "/api/auth/me", login.Token, nil, http.StatusOK, &me)
	if me.ID != reg.User.ID {
		log.Fatalf("me returned %s", me.ID)
	}

	var refreshed struct {
		Token string `json:"token"`
	}
	c.call(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refreshToken": login.RefreshToken,
	}, http.StatusOK, &refreshed)
	c.call(ctx, http.MethodGet, "/api/auth/me", refreshed.Token, nil, http.StatusOK, nil)

	// staff may read the catalog but not change it
	c.call(ctx, http.MethodGet, "/api/products", "", nil, http.StatusOK, nil)
	c.call(ctx, http.MethodPost, "/api/products", login.Token, map[string]any{
		"name": "Smoke", "price": 1,
	}, http.StatusForbidden, nil)

	fmt.Printf("✅ auth smoke test passed: user=%s\n", reg.User.ID)
}
