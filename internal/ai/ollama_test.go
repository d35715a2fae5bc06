package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hferrand/chatstream/internal/apperr"
)

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"hi there"},"done":true}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	got, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got != "hi there" {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestOllamaStreamChat_OrderedChunks(t *testing.T) {
	lines := []string{
		`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"message":{"role":"assistant","content":"!"},"done":true}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, l := range lines {
			fmt.Fprintln(w, l)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo|!" {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestOllamaStreamChat_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"something broke"}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.2")
	chunks, errs := p.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	err := <-errs
	if err == nil {
		t.Fatalf("expected stream error")
	}
	if len(got) != 1 || got[0] != "par" {
		t.Fatalf("expected chunks before failure to be delivered, got %v", got)
	}
}

func TestClassify(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "llama3.2") // nothing listens here
	_, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if !apperr.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}

	var e *apperr.Error
	err = classify("h", "m", fmt.Errorf(`model "m" not found, try pulling it first`))
	if !errors.As(err, &e) || e.Kind != apperr.KindModelNotFound {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}
