package extstore

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newDirectoryServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && r.Header.Get("X-Directory-Secret") != secret {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.PathValue("id") {
		case "sess-ok":
			w.Write([]byte(`{"user_id": 42, "platform_name": "web", "platform_type": "browser"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "42":
			w.Write([]byte(`{"id": 42, "username": "alice", "email": "a@example.com", "role": "admin", "is_active": true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_GetSessionData(t *testing.T) {
	srv := newDirectoryServer(t, "s3cret")
	c := NewClient(srv.URL, "s3cret", time.Second)

	sess, err := c.GetSessionData("sess-ok")
	if err != nil {
		t.Fatalf("GetSessionData: %v", err)
	}
	if sess == nil || sess.UserID != 42 || sess.PlatformName != "web" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestClient_GetSessionData_NotFound(t *testing.T) {
	srv := newDirectoryServer(t, "")
	c := NewClient(srv.URL, "", time.Second)

	sess, err := c.GetSessionData("sess-missing")
	if err != nil {
		t.Fatalf("404 must not be an error: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil session, got %+v", sess)
	}
}

func TestClient_SecretRequired(t *testing.T) {
	srv := newDirectoryServer(t, "s3cret")
	c := NewClient(srv.URL, "wrong", time.Second)

	_, err := c.GetSessionData("sess-ok")
	if err == nil {
		t.Fatal("403 must surface as an error")
	}
}

func TestClient_GetUser(t *testing.T) {
	srv := newDirectoryServer(t, "")
	c := NewClient(srv.URL, "", time.Second)

	user, err := c.GetUser(42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Username != "alice" || user.Role != "admin" || !user.IsActive {
		t.Fatalf("unexpected user: %+v", user)
	}

	ghost, err := c.GetUser(7)
	if err != nil || ghost != nil {
		t.Fatalf("missing user must be (nil, nil), got %+v err=%v", ghost, err)
	}
}
