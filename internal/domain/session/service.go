package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
	"github.com/yanqian/paper-synthesizer/pkg/util"
)

const issuer = "paper-synthesizer"

// Config controls token signing.
type Config struct {
	Secret string
	TTL    time.Duration
}

// Token is a signed bearer credential for one analysis session.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Claims is the validated content of a Token.
type Claims struct {
	SessionID string
	ExpiresAt time.Time
}

// Service issues and validates session tokens.
type Service interface {
	Issue(sessionID string) (Token, error)
	Validate(token string) (Claims, error)
}

type service struct {
	secret []byte
	ttl    time.Duration
}

// NewService constructs the token service. Without a configured secret a random one is
// generated, so tokens do not survive a restart.
func NewService(cfg Config, logger *slog.Logger) Service {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		secret = randomHex(32)
		logger.With("component", "session.tokens").Warn("no token secret configured; using an ephemeral secret")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &service{secret: []byte(secret), ttl: ttl}
}

func (s *service) Issue(sessionID string) (Token, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Token{}, apperrors.Wrap(apperrors.CodeInvalidInput, "session id cannot be empty", nil)
	}
	now := util.NowUTC()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   sessionID,
		ID:        randomHex(16),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, apperrors.Wrap(apperrors.CodeInvalidToken, "failed to sign token", err)
	}
	return Token{Value: signed, ExpiresAt: expires.Truncate(time.Second)}, nil
}

func (s *service) Validate(token string) (Claims, error) {
	if strings.TrimSpace(token) == "" {
		return Claims{}, apperrors.Wrap(apperrors.CodeInvalidToken, "token missing", nil)
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, apperrors.Wrap(apperrors.CodeInvalidToken, "token validation failed", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Claims{}, apperrors.Wrap(apperrors.CodeInvalidToken, "token invalid", nil)
	}
	return Claims{SessionID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
