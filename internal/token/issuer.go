// Package token はログインセッション用の署名付きトークンの発行と検証を行う。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSecret は署名鍵が未設定であることを表す。
	ErrNoSecret = errors.New("token secret is not configured")
	// ErrUnsupportedAlgorithm はサポート外の署名アルゴリズムが指定されたことを表す。
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
	// ErrInvalidCredential はトークンの検証失敗を表す。
	// 署名不一致、有効期限切れ、subject欠落などが該当する。
	ErrInvalidCredential = errors.New("invalid credential")
)

// Credential は発行済みのセッショントークン。
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"-"`
}

// IssuerConfig はIssuerの設定。
type IssuerConfig struct {
	// Secret はHMAC署名鍵。空の場合Issue/Validateは必ずErrNoSecretを返す。
	Secret string
	// Algorithm は署名アルゴリズム名（HS256/HS384/HS512）。
	Algorithm string
	// Lifetime はトークンの有効期間。
	Lifetime time.Duration
}

// Issuer はHMAC署名付きトークンの発行・検証を行う。
type Issuer struct {
	secret    []byte
	method    *jwt.SigningMethodHMAC
	lifetime  time.Duration
	// now はテストで時刻を固定するために差し替え可能にしている。
	now func() time.Time
}

// NewIssuer はIssuerを生成する。
// サポート外のアルゴリズム名の場合はErrUnsupportedAlgorithmを返す。
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	method, err := resolveMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Issuer{
		secret:   []byte(cfg.Secret),
		method:   method,
		lifetime: cfg.Lifetime,
		now:      time.Now,
	}, nil
}

// resolveMethod はアルゴリズム名をHMAC署名方式に解決する。
func resolveMethod(name string) (*jwt.SigningMethodHMAC, error) {
	switch name {
	case "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, name)
	}
}

// Issue は指定ユーザーIDをsubjectとするトークンを発行する。
func (i *Issuer) Issue(userID string) (*Credential, error) {
	if len(i.secret) == 0 {
		return nil, ErrNoSecret
	}

	issuedAt := i.now()
	expiresAt := issuedAt.Add(i.lifetime)

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Credential{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(i.lifetime.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// Validate はトークンを検証し、subject（ユーザーID）を返す。
// 検証失敗時はErrInvalidCredentialを返す。
func (i *Issuer) Validate(raw string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}

	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			// alg偽装攻撃を防ぐため、発行時と同一の署名方式のみ受け付ける。
			if t.Method.Alg() != i.method.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return claims.Subject, nil
}
