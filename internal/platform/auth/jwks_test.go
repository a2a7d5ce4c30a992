package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return key
}

func rsaPublicKeyToJWK(privateKey *rsa.PrivateKey, kid string) JWKSKey {
	pub := &privateKey.PublicKey
	return JWKSKey{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// jwksServer serves keys() and counts fetches.
func jwksServer(t *testing.T, keys func() []JWKSKey) (*httptest.Server, *int32) {
	t.Helper()
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JWKSResponse{Keys: keys()})
	}))
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func TestJWKSCache_FetchAndCache(t *testing.T) {
	key := generateKey(t)
	srv, fetches := jwksServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(key, "k1"), {Kty: "EC", Kid: "ec-key"}}
	})

	cache := NewJWKSCache(srv.URL, 10*time.Minute)
	got, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("fetched key does not match original")
	}

	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if n := atomic.LoadInt32(fetches); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}

	if _, err := cache.GetKey("ec-key"); err == nil {
		t.Error("expected non-RSA keys to be ignored")
	}
}

func TestJWKSCache_RefetchesUnknownKid(t *testing.T) {
	key1, key2 := generateKey(t), generateKey(t)
	var rotated atomic.Bool
	srv, fetches := jwksServer(t, func() []JWKSKey {
		if rotated.Load() {
			return []JWKSKey{rsaPublicKeyToJWK(key1, "k1"), rsaPublicKeyToJWK(key2, "k2")}
		}
		return []JWKSKey{rsaPublicKeyToJWK(key1, "k1")}
	})

	cache := NewJWKSCache(srv.URL, 10*time.Minute)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rotated.Store(true)
	got, err := cache.GetKey("k2")
	if err != nil {
		t.Fatalf("unexpected error after rotation: %v", err)
	}
	if got.N.Cmp(key2.PublicKey.N) != 0 {
		t.Error("rotated key modulus does not match")
	}
	if n := atomic.LoadInt32(fetches); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestJWKSCache_TTLExpiry(t *testing.T) {
	key := generateKey(t)
	srv, fetches := jwksServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(key, "k1")}
	})

	cache := NewJWKSCache(srv.URL, time.Millisecond)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(fetches); n < 2 {
		t.Errorf("expected a refetch after TTL expiry, got %d fetches", n)
	}
}

func TestJWKSCache_Errors(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	if _, err := NewJWKSCache(failing.URL, time.Minute).GetKey("any"); err == nil {
		t.Error("expected error for server error response")
	}

	if _, err := NewJWKSCache("", time.Minute).GetKey("any"); err == nil {
		t.Error("expected error without a JWKS URL")
	}

	srv, _ := jwksServer(t, func() []JWKSKey { return nil })
	if _, err := NewJWKSCache(srv.URL, time.Minute).GetKey("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	key := generateKey(t)
	pub, err := parseRSAPublicKey(rsaPublicKeyToJWK(key, "p"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.N.Cmp(key.PublicKey.N) != 0 || pub.E != key.PublicKey.E {
		t.Error("parsed key does not match original")
	}

	if _, err := parseRSAPublicKey(JWKSKey{N: "!!!", E: "AQAB"}); err == nil {
		t.Error("expected error for invalid modulus")
	}
	if _, err := parseRSAPublicKey(JWKSKey{N: "AQAB", E: "!!!"}); err == nil {
		t.Error("expected error for invalid exponent")
	}
}

func TestJwksKeyFunc_NoKidHeader(t *testing.T) {
	keyFunc := jwksKeyFunc("http://127.0.0.1:1")
	if _, err := keyFunc(&jwt.Token{Header: map[string]interface{}{}}); err == nil {
		t.Fatal("expected error for token without kid")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	key := generateKey(t)
	srv, fetches := jwksServer(t, func() []JWKSKey {
		return []JWKSKey{rsaPublicKeyToJWK(key, "rs-1")}
	})

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("rs-user"))
	token.Header["kid"] = "rs-1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mw := JWTMiddleware(JWTConfig{JWKSURL: srv.URL})
	for i := 0; i < 3; i++ {
		ctx, err := runMiddleware(t, mw, "Bearer "+signed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if uid := UserIDFromContext(ctx); uid != "rs-user" {
			t.Errorf("expected rs-user, got %q", uid)
		}
	}
	if n := atomic.LoadInt32(fetches); n != 1 {
		t.Errorf("expected keys to be fetched once across requests, got %d", n)
	}

	// HS256 tokens are rejected when the middleware expects RS256.
	_, err = runMiddleware(t, mw, "Bearer "+createTestToken(t, validClaims("x"), testSigningKey))
	assertUnauthorized(t, err)
}
