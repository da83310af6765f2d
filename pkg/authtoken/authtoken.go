package authtoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid  = errors.New("invalid auth token")
	ErrMismatch = errors.New("auth token does not match contract")
)

type Claims struct {
	ContractID string `json:"contract_id"`
	Phone      string `json:"phone"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies the short-lived token a customer uses to
// confirm a checkout.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(contractID, phone string) (string, error) {
	now := i.now()
	claims := Claims{
		ContractID: contractID,
		Phone:      phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   contractID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature and expiry and that the token was issued for contractID.
func (i *Issuer) Verify(token, contractID string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.ContractID != contractID {
		return nil, ErrMismatch
	}
	return &claims, nil
}
