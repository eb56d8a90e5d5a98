package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/platform/requestctx"
)

type signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return signer{pub: pub, priv: priv}
}

func (s signer) token(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(s.priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func testConfig(s signer, now time.Time) Config {
	return Config{
		Issuer:   "https://id.example.com",
		Audience: "contactsync",
		Key:      s.pub,
		Now:      func() time.Time { return now },
	}
}

func validClaims(now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    "https://id.example.com",
		Audience:  jwt.ClaimStrings{"contactsync"},
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
}

func TestVerifyToken(t *testing.T) {
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	s := newSigner(t)
	cfg := testConfig(s, now)

	userID, err := VerifyToken(s.token(t, validClaims(now)), cfg)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("user id = %q, want user-1", userID)
	}
}

func TestVerifyTokenRejections(t *testing.T) {
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	s := newSigner(t)
	cfg := testConfig(s, now)

	expired := validClaims(now)
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	wrongIssuer := validClaims(now)
	wrongIssuer.Issuer = "https://other.example.com"

	wrongAudience := validClaims(now)
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	noSubject := validClaims(now)
	noSubject.Subject = ""

	notYet := validClaims(now)
	notYet.NotBefore = jwt.NewNumericDate(now.Add(time.Minute))

	otherKey := newSigner(t)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"expired", s.token(t, expired)},
		{"wrong issuer", s.token(t, wrongIssuer)},
		{"wrong audience", s.token(t, wrongAudience)},
		{"missing subject", s.token(t, noSubject)},
		{"not yet valid", s.token(t, notYet)},
		{"wrong key", otherKey.token(t, validClaims(now))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := VerifyToken(tc.token, cfg)
			if apperrors.CodeOf(err) != apperrors.CodeUnauthenticated {
				t.Fatalf("err = %v, want unauthenticated", err)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	s := newSigner(t)
	cfg := testConfig(s, now)

	var gotUserID string
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = requestctx.UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/contacts", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, validClaims(now)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUserID != "user-1" {
		t.Fatalf("context user = %q, want user-1", gotUserID)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/contacts", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
}
