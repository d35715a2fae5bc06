package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hferrand/chatstream/internal/ai"
	"github.com/hferrand/chatstream/internal/chat"
)

// scriptedProvider plays back a fixed fragment sequence, optionally failing
// afterwards. endless makes it produce fragments until cancelled, closing
// stopped once it observes the cancellation. A non-nil gate holds the stream
// back until the test closes it.
type scriptedProvider struct {
	chunks  []string
	err     error
	endless bool
	gate    chan struct{}

	once    sync.Once
	stopped chan struct{}
}

func newScriptedProvider(chunks []string, err error) *scriptedProvider {
	return &scriptedProvider{chunks: chunks, err: err, stopped: make(chan struct{})}
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return strings.Join(p.chunks, ""), nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		if p.gate != nil {
			select {
			case <-p.gate:
			case <-ctx.Done():
				return
			}
		}
		if p.endless {
			for i := 0; ; i++ {
				select {
				case out <- fmt.Sprintf("frag-%d ", i):
					time.Sleep(time.Millisecond)
				case <-ctx.Done():
					p.once.Do(func() { close(p.stopped) })
					return
				}
			}
		}
		for _, c := range p.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				p.once.Do(func() { close(p.stopped) })
				return
			}
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return out, errs
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&chat.Conversation{}, &chat.Message{}))
	return db
}

func newWSServer(t *testing.T, svc *chat.Service) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewSession(conn, svc).Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func messagesFor(t *testing.T, db *gorm.DB, conversationID string) []chat.Message {
	t.Helper()
	var msgs []chat.Message
	require.NoError(t, db.
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error)
	return msgs
}

func TestSession_StreamsChunksInOrderAndPersists(t *testing.T) {
	db := openTestDB(t)
	prov := newScriptedProvider([]string{"Hel", "lo ", "wor", "ld"}, nil)
	svc := chat.NewService(chat.NewRepo(db), prov, nil)
	conn := newWSServer(t, svc)

	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "Hello"}))

	start := readEvent(t, conn)
	require.Equal(t, EventStreamStart, start.Type)
	require.NotEmpty(t, start.ConversationID)

	var got []string
	for {
		ev := readEvent(t, conn)
		if ev.Type == EventStreamEnd {
			assert.Equal(t, "Hello world", ev.FullContent)
			assert.NotEmpty(t, ev.MessageID)
			break
		}
		require.Equal(t, EventStreamChunk, ev.Type)
		got = append(got, ev.Content)
	}
	assert.Equal(t, []string{"Hel", "lo ", "wor", "ld"}, got)

	msgs := messagesFor(t, db, start.ConversationID)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestSession_MidStreamFailureEmitsErrorAndPersistsNothing(t *testing.T) {
	db := openTestDB(t)
	prov := newScriptedProvider([]string{"par", "tial"}, errors.New("inference blew up"))
	svc := chat.NewService(chat.NewRepo(db), prov, nil)
	conn := newWSServer(t, svc)

	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "Hello"}))

	start := readEvent(t, conn)
	require.Equal(t, EventStreamStart, start.Type)

	var chunks []string
	var final Event
	for {
		ev := readEvent(t, conn)
		if ev.Type != EventStreamChunk {
			final = ev
			break
		}
		chunks = append(chunks, ev.Content)
	}
	assert.Equal(t, []string{"par", "tial"}, chunks)
	require.Equal(t, EventError, final.Type)
	assert.Contains(t, final.Message, "inference blew up")

	msgs := messagesFor(t, db, start.ConversationID)
	require.Len(t, msgs, 1, "only the user message should be persisted")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}

func TestSession_MalformedAndInvalidRequestsAreRecoverable(t *testing.T) {
	db := openTestDB(t)
	prov := newScriptedProvider([]string{"ok"}, nil)
	svc := chat.NewService(chat.NewRepo(db), prov, nil)
	conn := newWSServer(t, svc)

	// malformed payload: error event, connection stays up
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Message, "invalid request")

	// validation failure: error event, no stream_start, connection stays up
	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "   "}))
	ev = readEvent(t, conn)
	require.Equal(t, EventError, ev.Type)

	// the same connection still serves a full turn
	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "Hello"}))
	ev = readEvent(t, conn)
	require.Equal(t, EventStreamStart, ev.Type)
	for ev.Type != EventStreamEnd {
		ev = readEvent(t, conn)
	}
	assert.Equal(t, "ok", ev.FullContent)
}

func TestSession_PersistenceFailureAfterStreamIsReported(t *testing.T) {
	db := openTestDB(t)
	prov := newScriptedProvider([]string{"Hel", "lo"}, nil)
	prov.gate = make(chan struct{})
	svc := chat.NewService(chat.NewRepo(db), prov, nil)
	conn := newWSServer(t, svc)

	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "Hello"}))

	start := readEvent(t, conn)
	require.Equal(t, EventStreamStart, start.Type)

	// the user message is already durable; now break message persistence so
	// the assistant save fails once the stream has run to completion
	require.NoError(t, db.Migrator().DropTable(&chat.Message{}))
	close(prov.gate)

	var chunks []string
	var final Event
	for {
		ev := readEvent(t, conn)
		if ev.Type != EventStreamChunk {
			final = ev
			break
		}
		chunks = append(chunks, ev.Content)
	}
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	require.Equal(t, EventError, final.Type)
	assert.Contains(t, final.Message, "failed to save response")

	// restore persistence; the same connection serves the next turn
	require.NoError(t, db.AutoMigrate(&chat.Message{}))
	require.NoError(t, conn.WriteJSON(chat.ChatRequest{
		ConversationID: start.ConversationID,
		Message:        "again",
	}))
	ev := readEvent(t, conn)
	require.Equal(t, EventStreamStart, ev.Type)
	for ev.Type != EventStreamEnd {
		ev = readEvent(t, conn)
	}
	assert.Equal(t, "Hello", ev.FullContent)

	msgs := messagesFor(t, db, start.ConversationID)
	require.Len(t, msgs, 2, "only the second turn lands in the restored table")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
}

func TestSession_ClientDisconnectStopsGeneration(t *testing.T) {
	db := openTestDB(t)
	prov := newScriptedProvider(nil, nil)
	prov.endless = true
	svc := chat.NewService(chat.NewRepo(db), prov, nil)
	conn := newWSServer(t, svc)

	require.NoError(t, conn.WriteJSON(chat.ChatRequest{Message: "Hello"}))

	start := readEvent(t, conn)
	require.Equal(t, EventStreamStart, start.Type)

	// take a couple of chunks, then walk away mid-stream
	readEvent(t, conn)
	readEvent(t, conn)
	require.NoError(t, conn.Close())

	select {
	case <-prov.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not observe cancellation after disconnect")
	}

	// give any stray persistence a moment to land, then check nothing did
	time.Sleep(100 * time.Millisecond)
	msgs := messagesFor(t, db, start.ConversationID)
	require.Len(t, msgs, 1, "nothing beyond the user message may be persisted after disconnect")
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
}
