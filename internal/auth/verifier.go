// Package auth はIDトークン検証とユーザー照合によるログインフローを提供する。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

var (
	// ErrInvalidToken はIDトークンの検証失敗を表す。
	// 署名不正、audience不一致、issuer不一致、有効期限切れが該当する。
	ErrInvalidToken = errors.New("invalid identity token")
	// ErrProviderUnavailable はIdPへの問い合わせ失敗を表す。
	// ネットワークエラーやIdP側の5xxが該当する。
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// VerifiedClaims は検証済みIDトークンから抽出したクレーム。
type VerifiedClaims struct {
	// Subject はIdPが発番するユーザー固有ID。
	Subject string
	// Email はIdPが検証済みのメールアドレス。
	Email string
	// Name は表示名。IdPによっては空の場合がある。
	Name string
	// IssuedAt はトークン発行時刻。
	IssuedAt time.Time
	// ExpiresAt はトークン有効期限。
	ExpiresAt time.Time
}

// Verifier はIDトークンを検証しクレームを返すインターフェース。
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*VerifiedClaims, error)
}

// GoogleVerifierConfig はGoogleVerifierの設定。
type GoogleVerifierConfig struct {
	// ClientID はトークンのaudienceとして期待するOAuthクライアントID。
	ClientID string
	// TokenInfoURL はテスト用にオーバーライド可能な検証エンドポイント。
	TokenInfoURL string
}

// GoogleVerifier はGoogleのtokeninfoエンドポイントでIDトークンを検証する。
type GoogleVerifier struct {
	config GoogleVerifierConfig
	client *http.Client
	// now はテストで時刻を固定するために差し替え可能にしている。
	now func() time.Time
}

// NewGoogleVerifier はGoogleVerifierを生成する。
func NewGoogleVerifier(config GoogleVerifierConfig) *GoogleVerifier {
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	return &GoogleVerifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// googleTokenInfo はtokeninfoエンドポイントのレスポンス。
// 数値フィールドも文字列で返る点に注意。
type googleTokenInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Aud           string `json:"aud"`
	Iss           string `json:"iss"`
	Iat           string `json:"iat"`
	Exp           string `json:"exp"`
}

// Verify はIDトークンをtokeninfoエンドポイントで検証する。
// audience・issuer・有効期限をローカルでも確認する。
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (*VerifiedClaims, error) {
	if rawToken == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	info, err := v.fetchTokenInfo(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	// tokeninfoが署名を検証済みでも、aud/iss/expは自前で確認する。
	// 他クライアント向けに発行された正規トークンの流用を防ぐ。
	if info.Aud != v.config.ClientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	if info.Iss != "accounts.google.com" && info.Iss != "https://accounts.google.com" {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidToken, info.Iss)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	if info.Email == "" {
		return nil, fmt.Errorf("%w: missing email", ErrInvalidToken)
	}

	expiresAt, err := parseUnixString(info.Exp)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid exp", ErrInvalidToken)
	}
	if !expiresAt.After(v.now()) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	// iatは省略される場合があるため欠落は許容する。
	issuedAt, _ := parseUnixString(info.Iat)

	return &VerifiedClaims{
		Subject:   info.Sub,
		Email:     info.Email,
		Name:      info.Name,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// fetchTokenInfo はtokeninfoエンドポイントに問い合わせる。
// 通信失敗と5xxはErrProviderUnavailable、それ以外の非200はErrInvalidTokenとする。
func (v *GoogleVerifier) fetchTokenInfo(ctx context.Context, rawToken string) (*googleTokenInfo, error) {
	endpoint := v.config.TokenInfoURL + "?" + url.Values{"id_token": {rawToken}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokeninfo request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: tokeninfo returned status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		// 不正・期限切れトークンはGoogleが400を返す
		return nil, fmt.Errorf("%w: tokeninfo returned status %d", ErrInvalidToken, resp.StatusCode)
	}

	var info googleTokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse tokeninfo response: %v", ErrInvalidToken, err)
	}

	return &info, nil
}

// parseUnixString は文字列のUNIX秒をtime.Timeに変換する。
func parseUnixString(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}

// compile-time interface check
var _ Verifier = (*GoogleVerifier)(nil)
