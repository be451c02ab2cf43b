package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAntispoofScorer_DetectSpoof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/spoof" {
			t.Errorf("path = %s, want /v1/spoof", r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["audio"] == "" {
			t.Error("request missing audio")
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"spoof_probability": 0.07})
	}))
	defer srv.Close()

	s := NewHTTPAntispoofScorer(srv.URL, time.Second)
	p, err := s.DetectSpoof(context.Background(), []byte("wav-bytes"))
	if err != nil {
		t.Fatalf("DetectSpoof: %v", err)
	}
	if p != 0.07 {
		t.Errorf("spoof probability = %g, want 0.07", p)
	}
}

func TestHTTPTextScorer_VerifyPhrase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["expected_text"] != "open sesame" {
			t.Errorf("expected_text = %q", body["expected_text"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"phrase_matches": true, "similarity": 0.91})
	}))
	defer srv.Close()

	s := NewHTTPTextScorer(srv.URL, time.Second)
	res, err := s.VerifyPhrase(context.Background(), []byte("wav"), "open sesame")
	if err != nil {
		t.Fatalf("VerifyPhrase: %v", err)
	}
	if !res.Matches || res.Similarity != 0.91 {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewHTTPAntispoofScorer(srv.URL, time.Second)
	_, err := s.DetectSpoof(context.Background(), []byte("wav"))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	var scorerErr *Error
	if !errors.As(err, &scorerErr) || scorerErr.Scorer != "antispoof" {
		t.Errorf("err = %v, want *Error with scorer name", err)
	}
}

func TestHTTPClient_SlowServerIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	s := NewHTTPAntispoofScorer(srv.URL, 20*time.Millisecond)
	_, err := s.DetectSpoof(context.Background(), []byte("wav"))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestHTTPClient_ConnectionRefusedIsUnavailable(t *testing.T) {
	s := NewHTTPAntispoofScorer("http://127.0.0.1:1", 100*time.Millisecond)
	_, err := s.DetectSpoof(context.Background(), []byte("wav"))
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want typed scorer error", err)
	}
}
