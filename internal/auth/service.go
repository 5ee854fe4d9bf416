package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/db"
)

// Trackers keep recording for hours without a way to re-authenticate
// mid-activity, so tokens outlive a typical session.
const accessTokenTTL = 7 * 24 * time.Hour

var (
	ErrCredentialsRequired = errors.New("email and password required")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

var generateHashFn = bcrypt.GenerateFromPassword

type Service struct {
	secret []byte
	db     db.Querier
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewService(secret string, db db.Querier) *Service {
	return &Service{
		secret: []byte(secret),
		db:     db,
	}
}

func (s *Service) Register(ctx context.Context, req Credentials) (User, TokenResponse, error) {
	if req.Email == "" || req.Password == "" {
		return User{}, TokenResponse{}, ErrCredentialsRequired
	}
	hash, err := generateHashFn([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, TokenResponse{}, err
	}

	user := User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1,$2,$3)
		RETURNING created_at
	`, user.ID, user.Email, user.PasswordHash)
	if err := row.Scan(&user.CreatedAt); err != nil {
		return User{}, TokenResponse{}, err
	}

	tokens, err := s.IssueToken(user.ID)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

func (s *Service) Login(ctx context.Context, req Credentials) (User, TokenResponse, error) {
	if req.Email == "" || req.Password == "" {
		return User{}, TokenResponse{}, ErrCredentialsRequired
	}
	row := s.db.QueryRow(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1
	`, req.Email)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		return User{}, TokenResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return User{}, TokenResponse{}, ErrInvalidCredentials
	}

	tokens, err := s.IssueToken(user.ID)
	if err != nil {
		return User{}, TokenResponse{}, err
	}
	return user, tokens, nil
}

// IssueToken signs a bearer token for userID.
func (s *Service) IssueToken(userID string) (TokenResponse, error) {
	access, err := s.signToken(userID, accessTokenTTL)
	if err != nil {
		return TokenResponse{}, err
	}
	return TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(accessTokenTTL.Seconds()),
	}, nil
}

func (s *Service) ValidateAccessToken(token string) (string, error) {
	claims, err := s.parseToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (s *Service) signToken(userID string, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) parseToken(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}
