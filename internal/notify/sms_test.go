package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

func TestNormalizeMSISDN(t *testing.T) {
	cases := map[string]string{
		"300 123 4567":     "573001234567",
		"+57 300-123-4567": "573001234567",
		"6011234567":       "6011234567",
		"":                 "",
	}
	for in, want := range cases {
		if got := NormalizeMSISDN(in); got != want {
			t.Errorf("NormalizeMSISDN(%q) = %q, want %q", in, got, want)
		}
	}
}

func newLabsMobile(t *testing.T, h http.HandlerFunc) *LabsMobileSender {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := NewLabsMobileSender(LabsMobileConfig{Username: "user@portal.co", Token: "tok", Sender: "PORTAL", BaseURL: srv.URL}, logging.Discard())
	if s == nil {
		t.Fatal("expected sender")
	}
	return s
}

func TestLabsMobileSender_Success(t *testing.T) {
	s := newLabsMobile(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user@portal.co" || pass != "tok" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		var body struct {
			Message   string              `json:"message"`
			TPOA      string              `json:"tpoa"`
			Recipient []map[string]string `json:"recipient"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.TPOA != "PORTAL" || len(body.Recipient) != 1 || body.Recipient[0]["msisdn"] != "573001234567" {
			t.Errorf("unexpected payload %#v", body)
		}
		_, _ = w.Write([]byte(`{"code":"0","message":"Message has been successfully sent","subid":"abc"}`))
	})
	if err := s.SendSMS(context.Background(), "3001234567", "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestLabsMobileSender_ProviderError(t *testing.T) {
	s := newLabsMobile(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"35","message":"The account has no enough credit"}`))
	})
	err := s.SendSMS(context.Background(), "3001234567", "hola")
	var lmErr *LabsMobileError
	if !errors.As(err, &lmErr) {
		t.Fatalf("expected LabsMobileError, got %v", err)
	}
	if lmErr.Code != "35" {
		t.Fatalf("unexpected code %q", lmErr.Code)
	}
}

func TestLabsMobileSender_Validation(t *testing.T) {
	if NewLabsMobileSender(LabsMobileConfig{}, nil) != nil {
		t.Fatal("expected nil sender without credentials")
	}
	s := newLabsMobile(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})
	if err := s.SendSMS(context.Background(), "abc", "hola"); err == nil {
		t.Fatal("expected recipient error")
	}
	if err := s.SendSMS(context.Background(), "3001234567", " "); err == nil {
		t.Fatal("expected body error")
	}
}

func TestTeamsWebhook_Post(t *testing.T) {
	var card map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&card)
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	hook := NewTeamsWebhook(srv.URL, logging.Discard())
	err := hook.Post(context.Background(), TeamsMessage{Title: "Radicado", Text: "nuevo", Facts: []Fact{{Name: "Numero", Value: "RAD-1"}}})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if card["@type"] != "MessageCard" || card["summary"] != "Radicado" {
		t.Fatalf("unexpected card %#v", card)
	}
}

func TestTeamsWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := NewTeamsWebhook(srv.URL, logging.Discard()).Post(context.Background(), TeamsMessage{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if NewTeamsWebhook("", nil) != nil {
		t.Fatal("expected nil webhook without url")
	}
}
