package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/hferrand/chatstream/internal/ai"
	"github.com/hferrand/chatstream/internal/apperr"
	"github.com/hferrand/chatstream/internal/common"
)

// MaxMessageLength bounds the user utterance, counted in runes (the same
// unit the 60-rune title derivation uses).
const MaxMessageLength = 8000

const maxTitleLength = 60

const systemPrompt = "You are a helpful AI assistant. " +
	"Be concise, accurate, and friendly. " +
	"If you don't know something, say so."

// Service orchestrates chat turns: it validates requests, sequences the
// persistence of both sides of a turn, replays history to the model, and
// exposes the split prepare/complete steps used by the streaming session.
type Service struct {
	repo     *Repo
	provider ai.Provider
	cache    *HistoryCache
	log      zerolog.Logger
}

func NewService(repo *Repo, provider ai.Provider, cache *HistoryCache) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		cache:    cache,
		log:      log.With().Str("component", "chat").Logger(),
	}
}

func (s *Service) Conversations(ctx context.Context) ([]Conversation, error) {
	convs, err := s.repo.ListConversations(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return convs, nil
}

func (s *Service) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ConversationNotFound(conversationID)
		}
		return nil, apperr.Internal(err)
	}
	return s.history(ctx, conversationID)
}

// Prepare validates the request, resolves or creates the conversation,
// persists the user message, and loads the prior history. The user message
// is durable after this step no matter how generation finishes. Both the
// synchronous and the streaming paths start here.
func (s *Service) Prepare(ctx context.Context, req ChatRequest) (*ChatContext, error) {
	trimmed := strings.TrimSpace(req.Message)
	if trimmed == "" {
		return nil, apperr.EmptyField("message")
	}
	if n := utf8.RuneCountInString(req.Message); n > MaxMessageLength {
		return nil, apperr.FieldTooLong("message", MaxMessageLength, n)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal(err)
		}
		// Unknown ids are created rather than rejected, so client-assigned
		// ids stay idempotent across retries.
		conv := &Conversation{ID: conversationID, Title: deriveTitle(trimmed)}
		if err := s.repo.CreateConversation(ctx, conv); err != nil {
			return nil, apperr.Internal(err)
		}
	}

	userMsg, err := s.saveMessage(ctx, conversationID, RoleUser, req.Message)
	if err != nil {
		return nil, err
	}

	all, err := s.history(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history := make([]Message, 0, len(all))
	for _, m := range all {
		if m.ID != userMsg.ID {
			history = append(history, m)
		}
	}

	return &ChatContext{
		ConversationID: conversationID,
		History:        history,
		UserMessage:    req.Message,
	}, nil
}

// Chat is the blocking, non-streaming turn: prepare, one inference call,
// persist the reply. An inference failure leaves the user message persisted
// and stores nothing else.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	prep, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, err := s.provider.Chat(ctx, buildPrompt(prep.History, prep.UserMessage))
	if err != nil {
		return nil, err
	}

	msg, err := s.SaveAssistantMessage(ctx, prep.ConversationID, reply)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{ConversationID: prep.ConversationID, Message: msg}, nil
}

// StreamReply relays provider fragments into out, in order, blocking when
// out is full. It does not close out. It returns the provider's error, or
// ctx.Err() once the caller cancels.
func (s *Service) StreamReply(ctx context.Context, prep *ChatContext, out chan<- string) error {
	sp, ok := s.provider.(ai.StreamProvider)
	if !ok {
		return apperr.Inference(errors.New("provider does not support streaming"))
	}

	chunks, errs := sp.StreamChat(ctx, buildPrompt(prep.History, prep.UserMessage))
	for {
		select {
		case c, open := <-chunks:
			if !open {
				// errs carries at most one buffered error and is closed
				// after the chunk channel.
				return <-errs
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SaveAssistantMessage persists a complete assistant reply and bumps the
// conversation's recency. Used by the synchronous path and by the streaming
// session once the full reply has been accumulated.
func (s *Service) SaveAssistantMessage(ctx context.Context, conversationID, content string) (*Message, error) {
	msg, err := s.saveMessage(ctx, conversationID, RoleAssistant, content)
	if err != nil {
		return nil, err
	}
	s.touch(ctx, conversationID)
	return msg, nil
}

// GenerateReply completes a turn whose user message is already persisted
// (the async job path): the stored history, ending in that user message, is
// the whole prompt.
func (s *Service) GenerateReply(ctx context.Context, conversationID string) (*Message, error) {
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ConversationNotFound(conversationID)
		}
		return nil, apperr.Internal(err)
	}

	msgs, err := s.history(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	prompt := make([]ai.Message, 0, len(msgs)+1)
	prompt = append(prompt, ai.Message{Role: RoleSystem, Content: systemPrompt})
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		prompt = append(prompt, ai.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return s.SaveAssistantMessage(ctx, conversationID, reply)
}

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.RecordNotFound("job", id)
		}
		return nil, apperr.Internal(err)
	}
	return j, nil
}

// buildPrompt assembles the provider message list: the fixed system
// instruction, the replayed history minus any stored system-role rows, then
// the new utterance.
func buildPrompt(history []Message, userMessage string) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: RoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, ai.Message{Role: RoleUser, Content: userMessage})
	return msgs
}

func deriveTitle(message string) string {
	r := []rune(message)
	if len(r) > maxTitleLength {
		return string(r[:maxTitleLength]) + "…"
	}
	return message
}

func (s *Service) saveMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	msg := &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, apperr.Internal(err)
	}
	s.cache.Invalidate(ctx, conversationID)
	return msg, nil
}

func (s *Service) history(ctx context.Context, conversationID string) ([]Message, error) {
	if msgs, ok := s.cache.Get(ctx, conversationID); ok {
		return msgs, nil
	}
	msgs, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.cache.Set(ctx, conversationID, msgs)
	return msgs, nil
}

// touch bumps conversation recency. The bump is best-effort: a failure only
// affects listing order, so it is logged and never surfaced to the caller.
func (s *Service) touch(ctx context.Context, conversationID string) {
	if err := s.repo.TouchConversation(ctx, conversationID); err != nil {
		s.log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Msg("failed to bump conversation recency")
	}
}
