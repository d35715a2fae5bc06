// Package ai abstracts the language-model backends. Providers are stateless
// per call: the caller supplies the full prompt (system instruction, replayed
// history, new utterance) every time.
package ai

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/hferrand/chatstream/internal/apperr"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider is an optional interface. Providers may implement streaming
// chat; both returned channels are closed when streaming ends.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// classify maps a raw provider error onto the application taxonomy:
// connection-level failures mean the backend is unreachable, an unknown-model
// response is its own kind, everything else is a generic inference failure.
func classify(host, model string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return apperr.Unavailable(host, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "connect:") {
		return apperr.Unavailable(host, err)
	}
	if strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
		return apperr.ModelNotFound(model)
	}
	return apperr.Inference(err)
}
