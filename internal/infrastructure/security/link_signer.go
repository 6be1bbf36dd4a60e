package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/garyjia/invoice-approval/internal/application/port"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const linkIssuer = "invoice-approval/review-link"

// ErrInvalidLink is returned for tokens that fail verification
var ErrInvalidLink = errors.New("invalid review link")

// LinkClaims are the claims embedded in a review link token
type LinkClaims struct {
	jwt.RegisteredClaims
	ApprovalID int64 `json:"approval_id"`
}

// LinkSigner implements port.LinkSigner with HMAC-SHA256 signed JWTs
type LinkSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLinkSigner creates a link signer. A zero ttl issues tokens without expiry.
func NewLinkSigner(secret string, ttl time.Duration) (*LinkSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("link signing secret must be at least 16 characters")
	}
	return &LinkSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Sign issues a token bound to approvalID
func (s *LinkSigner) Sign(approvalID int64) (string, error) {
	now := s.now().UTC()
	claims := LinkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  strconv.FormatInt(approvalID, 10),
			Issuer:   linkIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		ApprovalID: approvalID,
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign review link: %w", err)
	}
	return token, nil
}

// Verify checks the token signature, expiry and that it was issued for approvalID
func (s *LinkSigner) Verify(token string, approvalID int64) error {
	if token == "" {
		return ErrInvalidLink
	}

	parsed, err := jwt.ParseWithClaims(token, &LinkClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(linkIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}

	claims, ok := parsed.Claims.(*LinkClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidLink
	}
	if claims.ApprovalID != approvalID || claims.Subject != strconv.FormatInt(approvalID, 10) {
		return fmt.Errorf("%w: issued for another approval", ErrInvalidLink)
	}
	return nil
}

// Verify interface compliance
var _ port.LinkSigner = (*LinkSigner)(nil)
