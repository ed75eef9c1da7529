package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"recoverflow/internal/dto/req"

	"github.com/redis/go-redis/v9"
)

type fakeSessions struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeSessions) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeSessions) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeSessions) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func newTestAuth() (*AuthService, *fakeSessions) {
	sessions := &fakeSessions{data: map[string]string{}}
	return NewAuthService(sessions, AuthOptions{
		SigningKey:      []byte("test-key"),
		Username:        "ops",
		Password:        "secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}), sessions
}

func TestAuth_LoginAndParse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuth()

	if _, err := svc.Login(ctx, req.LoginReq{Username: "ops", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	tokens, err := svc.Login(ctx, req.LoginReq{Username: "ops", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	claims, err := svc.ParseToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Username != "ops" || claims.UserID != tokens.User.ID {
		t.Errorf("unexpected claims %+v", claims)
	}

	other := NewAuthService(&fakeSessions{data: map[string]string{}}, AuthOptions{SigningKey: []byte("other")})
	if _, err := other.ParseToken(tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("a token signed with another key must be rejected, got %v", err)
	}
}

func TestAuth_RefreshRotatesAndLogoutRevokes(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestAuth()
	tokens, _ := svc.Login(ctx, req.LoginReq{Username: "ops", Password: "secret"})

	rotated, err := svc.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("a rotated refresh token must not be reusable, got %v", err)
	}

	if err := svc.Logout(ctx, tokens.User.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired after logout, got %v", err)
	}
}
