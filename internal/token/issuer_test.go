package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestIssuer(t *testing.T, secret string) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(IssuerConfig{
		Secret:    secret,
		Algorithm: "HS256",
		Lifetime:  30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return issuer
}

// 発行したトークンが検証を通過しsubjectが往復することを検証
func TestIssuer_IssueAndValidate_Roundtrip(t *testing.T) {
	issuer := newTestIssuer(t, "test-secret")

	cred, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if cred.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", cred.TokenType)
	}
	if cred.ExpiresIn != 1800 {
		t.Errorf("ExpiresIn = %d, want 1800", cred.ExpiresIn)
	}

	userID, err := issuer.Validate(cred.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if userID != "user-123" {
		t.Errorf("subject = %q, want user-123", userID)
	}
}

// 有効期限がlifetimeに厳密に一致することを検証（時刻固定）
func TestIssuer_Issue_ExpiryMatchesLifetime(t *testing.T) {
	issuer := newTestIssuer(t, "test-secret")
	fixed := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	cred, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	want := fixed.Add(30 * time.Minute)
	if !cred.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", cred.ExpiresAt, want)
	}
}

// 署名鍵未設定時はErrNoSecretを返すことを検証
func TestIssuer_Issue_EmptySecret(t *testing.T) {
	issuer := newTestIssuer(t, "")

	_, err := issuer.Issue("user-123")
	if !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue() error = %v, want ErrNoSecret", err)
	}

	_, err = issuer.Validate("whatever")
	if !errors.Is(err, ErrNoSecret) {
		t.Errorf("Validate() error = %v, want ErrNoSecret", err)
	}
}

// サポート外アルゴリズム指定時はエラーになることを検証
func TestNewIssuer_UnsupportedAlgorithm(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{
		Secret:    "s",
		Algorithm: "RS256",
		Lifetime:  time.Minute,
	})
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Errorf("NewIssuer() error = %v, want ErrUnsupportedAlgorithm", err)
	}
}

// HS384/HS512も受け付けることを検証
func TestNewIssuer_SupportedAlgorithms(t *testing.T) {
	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		if _, err := NewIssuer(IssuerConfig{Secret: "s", Algorithm: alg, Lifetime: time.Minute}); err != nil {
			t.Errorf("NewIssuer(%s) failed: %v", alg, err)
		}
	}
}

// 期限切れトークンはErrInvalidCredentialになることを検証
func TestIssuer_Validate_ExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t, "test-secret")
	past := time.Now().Add(-2 * time.Hour)
	issuer.now = func() time.Time { return past }

	cred, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// 検証時は現在時刻に戻す
	issuer.now = time.Now
	_, err = issuer.Validate(cred.AccessToken)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Validate() error = %v, want ErrInvalidCredential", err)
	}
}

// 改ざんされたトークンはErrInvalidCredentialになることを検証
func TestIssuer_Validate_TamperedToken(t *testing.T) {
	issuer := newTestIssuer(t, "test-secret")

	cred, err := issuer.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	parts := strings.Split(cred.AccessToken, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token format: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]

	_, err = issuer.Validate(tampered)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Validate() error = %v, want ErrInvalidCredential", err)
	}
}

// 別の鍵で署名されたトークンは拒否されることを検証
func TestIssuer_Validate_WrongSecret(t *testing.T) {
	issuerA := newTestIssuer(t, "secret-a")
	issuerB := newTestIssuer(t, "secret-b")

	cred, err := issuerA.Issue("user-123")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	_, err = issuerB.Validate(cred.AccessToken)
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Validate() error = %v, want ErrInvalidCredential", err)
	}
}

// トークンでない文字列は拒否されることを検証
func TestIssuer_Validate_Garbage(t *testing.T) {
	issuer := newTestIssuer(t, "test-secret")

	_, err := issuer.Validate("not-a-token")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("Validate() error = %v, want ErrInvalidCredential", err)
	}
}
