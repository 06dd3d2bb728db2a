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
	"github.com/labstack/echo/v4"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	set := jwkSet{Keys: []jwk{{
		Kty: "RSA",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKeyCache_FetchesAndCaches(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int32
	srv := jwksServer(t, "k1", &priv.PublicKey, &hits)

	cache := NewKeyCache(srv.URL, time.Minute)
	for i := 0; i < 3; i++ {
		key, err := cache.Key("k1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key.N.Cmp(priv.PublicKey.N) != 0 {
			t.Fatal("modulus mismatch")
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
}

func TestKeyCache_UnknownKid(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := jwksServer(t, "k1", &priv.PublicKey, nil)

	if _, err := NewKeyCache(srv.URL, time.Minute).Key("nope"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}

func TestJWTMiddleware_RS256ViaJWKS(t *testing.T) {
	priv, _ := rsa.GenerateKey(rand.Reader, 2048)
	srv := jwksServer(t, "k1", &priv.PublicKey, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("dr-rsa"))
	token.Header["kid"] = "k1"
	tokenStr, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err = JWTMiddleware(JWTConfig{JWKSURL: srv.URL})(func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "dr-rsa" {
			t.Errorf("expected dr-rsa, got %s", uid)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDiscoverJWKSURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"issuer":   "https://idp.example.com",
			"jwks_uri": "https://idp.example.com/keys",
		})
	}))
	defer srv.Close()

	url, err := DiscoverJWKSURL(srv.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://idp.example.com/keys" {
		t.Errorf("unexpected jwks url %s", url)
	}
}

func TestDiscoverJWKSURL_MissingJWKS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "x"})
	}))
	defer srv.Close()

	if _, err := DiscoverJWKSURL(srv.URL); err == nil {
		t.Fatal("expected error when jwks_uri is absent")
	}
}
