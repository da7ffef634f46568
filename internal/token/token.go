package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tiergate/internal/model"
)

// Token purposes. Session tokens authenticate API calls; payment tokens are
// embedded in the post-checkout redirect URL and carry no authority beyond
// pre-filling the landing page. The two must never be interchangeable even
// though they share a signing secret.
const (
	PurposeSession = "session"
	PurposePayment = "payment"
)

// PaymentTokenTTL is the fixed lifetime of a payment-confirmation token.
const PaymentTokenTTL = time.Hour

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the claim set for both token purposes. Plan is only set on
// payment-confirmation tokens.
type Claims struct {
	UserID  string `json:"uid"`
	Email   string `json:"email"`
	Plan    string `json:"plan,omitempty"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies identity tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	issuer string
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), issuer: "tiergate"}
}

// IssueSession mints a session-proof token for API authentication.
func (i *Issuer) IssueSession(user *model.User, ttl time.Duration) (string, error) {
	return i.sign(Claims{
		UserID:  user.UserID,
		Email:   user.Email,
		Purpose: PurposeSession,
	}, ttl)
}

// IssuePayment mints a one-shot payment-confirmation token embedding the
// intended plan name. Lifetime is fixed at one hour.
func (i *Issuer) IssuePayment(user *model.User, plan string) (string, error) {
	return i.sign(Claims{
		UserID:  user.UserID,
		Email:   user.Email,
		Plan:    plan,
		Purpose: PurposePayment,
	}, PaymentTokenTTL)
}

// VerifySession validates a session token. A payment token presented here
// fails with ErrTokenInvalid.
func (i *Issuer) VerifySession(tokenString string) (*Claims, error) {
	return i.verify(tokenString, PurposeSession)
}

// VerifyPayment validates a payment-confirmation token.
func (i *Issuer) VerifyPayment(tokenString string) (*Claims, error) {
	return i.verify(tokenString, PurposePayment)
}

func (i *Issuer) sign(claims Claims, ttl time.Duration) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("signing secret not configured")
	}
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    i.issuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) verify(tokenString, purpose string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrTokenInvalid
	}
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if claims.Purpose != purpose {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.Subject != claims.UserID {
		return nil, ErrTokenInvalid
	}
	if claims.Issuer != i.issuer {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
