package fb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"doge-tipbot/internal/logging"
)

type graphServer struct {
	mu        sync.Mutex
	accounts  int
	replies   []string
	replyConv string
	replyTok  string
}

func newGraph(t *testing.T) (*Client, *graphServer) {
	t.Helper()
	gs := &graphServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		gs.mu.Lock()
		gs.accounts++
		gs.mu.Unlock()
		if r.URL.Query().Get("access_token") != "user-token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token.","type":"OAuthException","code":190}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"999","name":"Other","access_token":"other"},{"id":"42","name":"TipBot","access_token":"page-token"}]}`))
	})
	mux.HandleFunc("/TipBot/conversations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "page-token" {
			t.Errorf("conversations called with token %q", r.URL.Query().Get("access_token"))
		}
		_, _ = w.Write([]byte(`{"data":[
			{"id":"t_1","unread_count":1,"messages":{"data":[{"id":"m_1","message":"info","from":{"id":"1001","name":"Alice"}}]}},
			{"id":"t_2","unread_count":0,"messages":{"data":[{"id":"m_2","message":"history","from":{"id":"1002","name":"Bob"}}]}},
			{"id":"t_3","unread_count":2,"messages":{"data":[{"id":"m_3","message":"Deposit Address: D...","from":{"id":"42","name":"TipBot"}}]}},
			{"id":"t_4","unread_count":1,"messages":{"data":[]}}
		]}`))
	})
	mux.HandleFunc("/t_1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gs.mu.Lock()
		gs.replies = append(gs.replies, r.PostForm.Get("message"))
		gs.replyConv = "t_1"
		gs.replyTok = r.URL.Query().Get("access_token")
		gs.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"m_reply"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := New(Config{
		GraphURL:  srv.URL,
		PageID:    "42",
		PageName:  "TipBot",
		UserToken: "user-token",
	}, logging.Discard(), nil, nil)
	return client, gs
}

func TestPageToken(t *testing.T) {
	client, _ := newGraph(t)

	token, err := client.PageToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "page-token" {
		t.Fatalf("unexpected token %s", token)
	}
}

func TestPageTokenMissingPage(t *testing.T) {
	client, _ := newGraph(t)
	client.pageID = "7"

	if _, err := client.PageToken(context.Background()); !errors.Is(err, ErrPageTokenMissing) {
		t.Fatalf("expected ErrPageTokenMissing, got %v", err)
	}
}

func TestPageTokenInvalidUserToken(t *testing.T) {
	client, _ := newGraph(t)
	client.userToken = "expired"

	if _, err := client.PageToken(context.Background()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestFetchUnreadSkipsReadAndOwnMessages(t *testing.T) {
	client, _ := newGraph(t)

	msgs, err := client.FetchUnread(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one unread message, got %d: %+v", len(msgs), msgs)
	}
	m := msgs[0]
	if m.ConversationID != "t_1" || m.MessageID != "m_1" || m.Text != "info" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.SenderID != "1001" || m.SenderName != "Alice" || m.PlatformToken != "page-token" || m.Source != Source {
		t.Fatalf("unexpected sender fields %+v", m)
	}
}

func TestReplyPostsMessage(t *testing.T) {
	client, gs := newGraph(t)

	if err := client.Reply(context.Background(), "t_1", "", "Deposit Address: DAbc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gs.replies) != 1 || gs.replies[0] != "Deposit Address: DAbc" {
		t.Fatalf("unexpected replies %v", gs.replies)
	}
	if gs.replyTok != "page-token" {
		t.Fatalf("reply should resolve the page token, got %q", gs.replyTok)
	}
	if gs.accounts != 1 {
		t.Fatalf("expected one accounts lookup, got %d", gs.accounts)
	}
}

func TestReplyServerError(t *testing.T) {
	client, _ := newGraph(t)

	if err := client.Reply(context.Background(), "t_missing", "page-token", "hi"); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}
