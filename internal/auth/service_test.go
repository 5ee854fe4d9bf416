package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"golang.org/x/crypto/bcrypt"
)

var errDB = errors.New("db down")

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRegisterAndLogin(t *testing.T) {
	mock := newMock(t)
	createdAt := time.Now().Add(-time.Minute)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(pgxmock.AnyArg(), "user@example.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	svc := NewService("test-secret", mock)
	user, tokens, err := svc.Register(context.Background(), Credentials{Email: "user@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == "" || tokens.AccessToken == "" || tokens.TokenType != "Bearer" {
		t.Fatalf("expected user and token")
	}
	if id, err := svc.ValidateAccessToken(tokens.AccessToken); err != nil || id != user.ID {
		t.Fatalf("token should carry the user id: %q %v", id, err)
	}

	mock.ExpectQuery(`SELECT id, email, password_hash, created_at`).
		WithArgs("user@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow(user.ID, user.Email, user.PasswordHash, createdAt))

	_, loginTokens, err := svc.Login(context.Background(), Credentials{Email: "user@example.com", Password: "password123"})
	if err != nil || loginTokens.AccessToken == "" {
		t.Fatalf("login: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterMissingFields(t *testing.T) {
	svc := NewService("secret", nil)
	if _, _, err := svc.Register(context.Background(), Credentials{Email: "a@b.c"}); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("expected credentials required, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), Credentials{Password: "x"}); !errors.Is(err, ErrCredentialsRequired) {
		t.Fatalf("expected credentials required, got %v", err)
	}
}

func TestRegisterHashError(t *testing.T) {
	orig := generateHashFn
	generateHashFn = func([]byte, int) ([]byte, error) { return nil, errors.New("hash failed") }
	defer func() { generateHashFn = orig }()

	if _, _, err := NewService("secret", nil).Register(context.Background(), Credentials{Email: "a@b.c", Password: "x"}); err == nil {
		t.Fatalf("expected hash error")
	}
}

func TestRegisterDBError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO users`).WillReturnError(errDB)

	if _, _, err := NewService("secret", mock).Register(context.Background(), Credentials{Email: "a@b.c", Password: "x"}); !errors.Is(err, errDB) {
		t.Fatalf("expected db error, got %v", err)
	}
}

func TestLoginInvalidPassword(t *testing.T) {
	mock := newMock(t)
	hash, _ := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	mock.ExpectQuery(`FROM users WHERE email`).
		WithArgs("user@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "created_at"}).
			AddRow("user-1", "user@example.com", string(hash), time.Now()))

	_, _, err := NewService("secret", mock).Login(context.Background(), Credentials{Email: "user@example.com", Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE email`).WillReturnError(errDB)

	_, _, err := NewService("secret", mock).Login(context.Background(), Credentials{Email: "nobody@example.com", Password: "x"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestIssueTokenWithoutSecret(t *testing.T) {
	if _, err := NewService("", nil).IssueToken("user-1"); err == nil {
		t.Fatalf("expected error without a secret")
	}
}

func TestValidateAccessTokenInvalid(t *testing.T) {
	svc := NewService("secret", nil)
	if _, err := svc.ValidateAccessToken("not-a-token"); err == nil {
		t.Fatalf("expected error")
	}
	expired, _ := svc.signToken("user-1", -time.Minute)
	if _, err := svc.ValidateAccessToken(expired); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}
