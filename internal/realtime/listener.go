// Package realtime listens to the feed websocket and applies server-pushed
// counters through the post store.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"areahood/internal/observability"

	"github.com/gorilla/websocket"
)

// Event types pushed on the feed socket.
const (
	EventPostLiked    = "post_liked"
	EventPostDeleted  = "post_deleted"
	EventShutdown     = "server_shutdown"
	EventConnected    = "connected"
	defaultMaxBackoff = 30 * time.Second
)

// Event is one message on the feed socket.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type likePayload struct {
	PostID     string `json:"post_id"`
	LikesCount int    `json:"likes_count"`
}

type deletePayload struct {
	PostID string `json:"post_id"`
}

// PostSink receives remote post changes.
type PostSink interface {
	ApplyRemoteLikes(id string, count int, liked *bool) bool
	RemoveRemote(id string)
}

// TokenSource returns the bearer token to connect with.
type TokenSource interface {
	Token() string
}

// Listener keeps a feed connection open and reconnects with backoff.
type Listener struct {
	url        string
	tokens     TokenSource
	posts      PostSink
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewListener creates a listener for rawURL, e.g. ws://localhost:8375/ws/feed.
func NewListener(rawURL string, tokens TokenSource, posts PostSink) (*Listener, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid realtime url %q", rawURL)
	}
	return &Listener{
		url:        rawURL,
		tokens:     tokens,
		posts:      posts,
		dialer:     websocket.DefaultDialer,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: defaultMaxBackoff,
	}, nil
}

// FeedURL derives the websocket URL from an API base URL:
// http://host/api becomes ws://host/ws/feed.
func FeedURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api") + "/ws/feed"
	u.RawQuery = ""
	return u.String(), nil
}

// Run connects and processes events until ctx ends. Dropped connections,
// including a server_shutdown notice, are retried with exponential backoff
// that starts over after every successful connection.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = l.minBackoff
		}
		observability.GlobalLogger.WarnContext(ctx, "realtime connection lost",
			slog.String("error", errString(err)),
			slog.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}

// session runs one connection until it drops. connected reports whether
// the dial succeeded.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	token := l.tokens.Token()
	if token == "" {
		return false, errors.New("no session token")
	}
	u, _ := url.Parse(l.url)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := l.dialer.DialContext(ctx, u.String(), http.Header{})
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	if err != nil {
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	observability.GlobalLogger.InfoContext(ctx, "realtime connected", slog.String("url", l.url))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			observability.GlobalLogger.DebugContext(ctx, "realtime: bad frame", slog.String("error", err.Error()))
			continue
		}
		if ev.Type == EventShutdown {
			return true, errors.New("server shutting down")
		}
		l.Apply(ev)
	}
}

// Apply routes one event to the post store. Unknown types are ignored.
func (l *Listener) Apply(ev Event) {
	observability.RealtimeEvents.WithLabelValues(ev.Type).Inc()
	switch ev.Type {
	case EventPostLiked:
		var p likePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.PostID == "" {
			return
		}
		l.posts.ApplyRemoteLikes(p.PostID, p.LikesCount, nil)
	case EventPostDeleted:
		var p deletePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil || p.PostID == "" {
			return
		}
		l.posts.RemoveRemote(p.PostID)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
