package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/kpidash/internal/model"
)

var testUser = model.PublicUser{ID: 1, Email: "a@b.com", Name: "A"}

// newTestCodec は固定時計を持つTokenCodecを生成する。
func newTestCodec(t *testing.T, secret string, now *time.Time) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec([]byte(secret), SessionTTL)
	if err != nil {
		t.Fatalf("NewTokenCodec error: %v", err)
	}
	c.now = func() time.Time { return *now }
	return c
}

func TestNewTokenCodec_EmptySecret_ReturnsConfigurationError(t *testing.T) {
	_, err := NewTokenCodec(nil, SessionTTL)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestNewTokenCodec_NonPositiveTTL_ReturnsConfigurationError(t *testing.T) {
	_, err := NewTokenCodec([]byte("k"), 0)
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("error = %v, want ErrConfiguration", err)
	}
}

func TestTokenCodec_IssueAndVerify_Immediately(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	tok, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	claims, err := c.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.ID != 1 || claims.Email != "a@b.com" || claims.Name != "A" {
		t.Errorf("claims = %+v, want id=1 email=a@b.com name=A", claims)
	}
	if claims.IssuedAt != now.Unix() {
		t.Errorf("iat = %d, want %d", claims.IssuedAt, now.Unix())
	}
	if claims.ExpiresAt != now.Add(24*time.Hour).Unix() {
		t.Errorf("exp = %d, want %d", claims.ExpiresAt, now.Add(24*time.Hour).Unix())
	}
}

func TestTokenCodec_VerifyAfterTTL_ReturnsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	tok, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// 23時間59分後はまだ有効
	now = now.Add(24*time.Hour - time.Minute)
	if _, err := c.Verify(tok); err != nil {
		t.Fatalf("Verify before expiry error: %v", err)
	}

	// TTL経過後は期限切れ
	now = now.Add(2 * time.Minute)
	claims, err := c.Verify(tok)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("error = %v, want ErrTokenExpired", err)
	}
	if !errors.Is(err, model.ErrAuthentication) {
		t.Errorf("expired error should also be ErrAuthentication")
	}
	if claims != nil {
		t.Errorf("claims = %+v, want nil", claims)
	}
}

func TestTokenCodec_WrongSecret_FailsClosed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := newTestCodec(t, "secret-a", &now)
	verifier := newTestCodec(t, "secret-b", &now)

	tok, err := signer.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	claims, err := verifier.Verify(tok)
	if !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("error = %v, want ErrTokenSignature", err)
	}
	if claims != nil {
		t.Errorf("claims leaked: %+v", claims)
	}
}

func TestTokenCodec_SignatureCheckedBeforeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := newTestCodec(t, "secret-a", &now)
	verifier := newTestCodec(t, "secret-b", &now)

	tok, err := signer.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	now = now.Add(48 * time.Hour)
	_, err = verifier.Verify(tok)
	if !errors.Is(err, ErrTokenSignature) {
		t.Errorf("error = %v, want ErrTokenSignature (signature before expiry)", err)
	}
}

func TestTokenCodec_TamperedPayload_FailsClosed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	tok, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// 別ユーザーのペイロードに差し替える
	other, err := c.Issue(model.PublicUser{ID: 2, Email: "admin@b.com", Name: "Admin"})
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	parts := strings.Split(tok, ".")
	otherParts := strings.Split(other, ".")
	tampered := parts[0] + "." + otherParts[1] + "." + parts[2]

	claims, err := c.Verify(tampered)
	if !errors.Is(err, ErrTokenSignature) {
		t.Errorf("error = %v, want ErrTokenSignature", err)
	}
	if claims != nil {
		t.Errorf("claims leaked: %+v", claims)
	}
}

func TestTokenCodec_Malformed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	tok, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"not a jwt", "not.a.jwt"},
		{"garbage", "garbage"},
		{"truncated", tok[:len(tok)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := c.Verify(tt.token)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, model.ErrAuthentication) {
				t.Errorf("error = %v, want ErrAuthentication", err)
			}
			if claims != nil {
				t.Errorf("claims leaked: %+v", claims)
			}
		})
	}
}

func TestTokenCodec_RejectsNoneAlgorithm(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, tokenClaims{
		UserID: 1,
		Email:  "a@b.com",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := c.Verify(tok); !errors.Is(err, ErrTokenSignature) {
		t.Errorf("error = %v, want ErrTokenSignature", err)
	}
}

func TestTokenCodec_MissingExpiry_Rejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserID: 1,
		Email:  "a@b.com",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}).SignedString([]byte("secret-a"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	if _, err := c.Verify(tok); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("error = %v, want ErrTokenMalformed", err)
	}
}

func TestTokenCodec_DeterministicForSameInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "secret-a", &now)

	t1, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	t2, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if t1 != t2 {
		t.Error("tokens issued at the same instant with the same claims should be identical")
	}

	now = now.Add(time.Second)
	t3, err := c.Issue(testUser)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if t3 == t1 {
		t.Error("tokens issued at different instants should differ")
	}
}
