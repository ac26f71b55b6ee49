package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSignRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://download.example.com/feed/v1/download?since=300", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	now := time.Unix(1700000000, 0)
	signRequest(req, "client-1", "topsecret", now)

	if got := req.Header.Get("Timestamp"); got != "1700000000" {
		t.Errorf("Timestamp = %q, want %q", got, "1700000000")
	}

	auth := req.Header.Get("Authorization")
	const prefix = "HELIX client-1:"
	if !strings.HasPrefix(auth, prefix) {
		t.Fatalf("Authorization = %q, want prefix %q", auth, prefix)
	}

	// The signature covers the path, method and timestamp but not the query.
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write([]byte("/feed/v1/download:GET:1700000000"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if got := strings.TrimPrefix(auth, prefix); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestSignRequestVariesByMethod(t *testing.T) {
	now := time.Unix(1700000000, 0)

	get, _ := http.NewRequest(http.MethodGet, "https://download.example.com/feed/v1/download", nil)
	post, _ := http.NewRequest(http.MethodPost, "https://download.example.com/feed/v1/download", nil)
	signRequest(get, "c", "s", now)
	signRequest(post, "c", "s", now)

	if get.Header.Get("Authorization") == post.Header.Get("Authorization") {
		t.Error("GET and POST signatures must differ")
	}
}
