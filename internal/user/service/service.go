package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"

	"tvbridge/internal/user/repository"
	"tvbridge/pkg/hash"
	"tvbridge/pkg/jwt"
)

const refreshTokenTTL = 30 * 24 * time.Hour

// ErrInvalidCredentials covers both unknown email and wrong password, so the
// login response does not reveal which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service authenticates the single dashboard operator configured via env.
type Service struct {
	operatorEmail string
	passwordHash  string
	jwtManager    *jwt.Manager
	tokens        repository.RefreshTokenRepository
}

// TokenPair is the login/refresh response payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func NewService(operatorEmail, passwordHash, jwtSecret string, tokens repository.RefreshTokenRepository) *Service {
	return &Service{
		operatorEmail: operatorEmail,
		passwordHash:  passwordHash,
		jwtManager:    jwt.NewManager(jwtSecret),
		tokens:        tokens,
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	if email != s.operatorEmail || !hash.CheckPassword(s.passwordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, email)
}

// Refresh rotates a refresh token: the old one is burned even if issuing the
// replacement fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	email, err := s.tokens.GetEmail(ctx, refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := s.tokens.Delete(ctx, refreshToken); err != nil {
		return nil, err
	}
	return s.issue(ctx, email)
}

func (s *Service) issue(ctx context.Context, email string) (*TokenPair, error) {
	access, err := s.jwtManager.Generate(email)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate access token")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "failed to generate refresh token")
	}
	refresh := hex.EncodeToString(raw)

	if err := s.tokens.Save(ctx, refresh, email, time.Now().Add(refreshTokenTTL)); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
