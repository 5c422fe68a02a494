package lights

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_ManifestSendsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/manifest" {
			t.Errorf("path = %q, want /manifest", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Manifest{
			Rooms:  []Resource{{ID: "g1", Name: "Kitchen"}},
			Lights: []Resource{{ID: "l1", Name: "Desk lamp"}},
		})
	}))
	defer srv.Close()

	m, err := NewClient(srv.URL, "tok").Manifest(context.Background())
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok")
	}
	if len(m.Rooms) != 1 || m.Rooms[0].Name != "Kitchen" {
		t.Errorf("Rooms = %+v", m.Rooms)
	}
}

func TestClient_SetLightStateBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/lights/abc/state" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	on := true
	if err := NewClient(srv.URL, "").SetLightState(context.Background(), "abc", State{On: &on}); err != nil {
		t.Fatalf("SetLightState: %v", err)
	}
	if body["on"] != true {
		t.Errorf("body = %v, want on=true", body)
	}
	if _, ok := body["brightness"]; ok {
		t.Errorf("unset brightness should be omitted: %v", body)
	}
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadGateway, KindServerError},
		{http.StatusTeapot, KindGeneric},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal bridge detail: stack trace here", tt.status)
		}))
		_, err := NewClient(srv.URL, "").Manifest(context.Background())
		srv.Close()

		var le *Error
		if !errors.As(err, &le) {
			t.Errorf("status %d: error %v is not *Error", tt.status, err)
			continue
		}
		if le.Kind != tt.want {
			t.Errorf("status %d: Kind = %s, want %s", tt.status, le.Kind, tt.want)
		}
		if strings.Contains(le.Message, "stack trace") {
			t.Errorf("status %d: raw body leaked into message %q", tt.status, le.Message)
		}
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "").Manifest(context.Background())
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindNetworkError {
		t.Fatalf("err = %v, want NETWORK_ERROR", err)
	}
	if strings.Contains(le.Message, "127.0.0.1") {
		t.Errorf("transport detail leaked: %q", le.Message)
	}
}

func TestUserMessage(t *testing.T) {
	err := newError(KindUnauthorized)
	if !strings.HasPrefix(err.Error(), "UNAUTHORIZED: ") {
		t.Fatalf("Error() = %q, want KIND: prefix", err.Error())
	}
	got := UserMessage(err)
	if strings.Contains(got, "UNAUTHORIZED") {
		t.Errorf("UserMessage kept prefix: %q", got)
	}
	if got != userMessages[KindUnauthorized] {
		t.Errorf("UserMessage = %q", got)
	}
	if got := UserMessage(errors.New("dial tcp: connection refused")); got != userMessages[KindGeneric] {
		t.Errorf("UserMessage(raw) = %q, want generic", got)
	}
}
