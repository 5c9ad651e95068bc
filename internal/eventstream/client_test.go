package eventstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/hochfrequenz/phaseforge/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu       sync.Mutex
	messages []EnvelopeRaw
	auth     string
}

func (c *collector) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.auth = r.Header.Get("Authorization")
		c.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env EnvelopeRaw
			if err := json.Unmarshal(data, &env); err != nil {
				t.Errorf("invalid envelope: %v", err)
				return
			}
			c.mu.Lock()
			c.messages = append(c.messages, env)
			c.mu.Unlock()
		}
	}
}

func (c *collector) snapshot() []EnvelopeRaw {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EnvelopeRaw, len(c.messages))
	copy(out, c.messages)
	return out
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClientStreamsInOrder(t *testing.T) {
	col := &collector{}
	server := httptest.NewServer(col.handler(t))
	defer server.Close()

	client, err := NewClient(Config{URL: wsURL(server), Token: "secret", ClientID: "ci-1"}, nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, client.Emit(domain.ExecutionEvent{
			ExecutionID: "exec-1",
			ProjectName: "shop",
			Sequence:    i,
			Type:        domain.EventUpdated,
			Success:     true,
			PhaseID:     "build",
		}))
	}
	end := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	require.NoError(t, client.Finished(domain.ExecutionStatus{
		ExecutionID: "exec-1",
		TaskID:      "build",
		Status:      domain.RunCompleted,
		StartTime:   end.Add(-5 * time.Second),
		EndTime:     &end,
	}))
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Run(ctx))

	require.Eventually(t, func() bool { return len(col.snapshot()) == 5 }, 2*time.Second, 10*time.Millisecond)
	msgs := col.snapshot()

	assert.Equal(t, TypeHello, msgs[0].Type)
	var hello HelloMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &hello))
	assert.Equal(t, "ci-1", hello.ClientID)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, TypeEvent, msgs[i].Type)
		var ev EventMessage
		require.NoError(t, json.Unmarshal(msgs[i].Payload, &ev))
		assert.Equal(t, i, ev.Sequence)
		assert.Equal(t, "build", ev.Event().PhaseID)
	}

	assert.Equal(t, TypeStatus, msgs[4].Type)
	var st StatusMessage
	require.NoError(t, json.Unmarshal(msgs[4].Payload, &st))
	assert.Equal(t, "COMPLETED", st.Status)
	require.NotNil(t, st.EndTime)
	assert.True(t, st.EndTime.Equal(end))

	col.mu.Lock()
	assert.Equal(t, "Bearer secret", col.auth)
	col.mu.Unlock()
}

func TestClientAnswersPing(t *testing.T) {
	pongs := make(chan EnvelopeRaw, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		ping, _ := MarshalEnvelope(TypePing, nil)
		if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
			t.Errorf("write ping: %v", err)
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env EnvelopeRaw
			if err := json.Unmarshal(data, &env); err == nil && env.Type == TypePong {
				select {
				case pongs <- env:
				default:
				}
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: wsURL(server)}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case env := <-pongs:
		assert.Equal(t, TypePong, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
	cancel()
	<-client.Done()
}

func TestClientReconnectsWhenCollectorDrops(t *testing.T) {
	var mu sync.Mutex
	connections := 0
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		mu.Lock()
		connections++
		n := connections
		mu.Unlock()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if n == 1 {
			// drop the first connection right after hello
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"), time.Now().Add(time.Second))
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{
		URL:     wsURL(server),
		Backoff: func(int) time.Duration { return 10 * time.Millisecond },
	}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	// nothing is emitted: only reading notices the dropped connection
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-client.Done()
}

func TestClientRetriesUntilCancelled(t *testing.T) {
	client, err := NewClient(Config{
		URL:     "ws://127.0.0.1:1/unreachable",
		Backoff: func(int) time.Duration { return 10 * time.Millisecond },
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = client.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-client.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestClientQueue(t *testing.T) {
	client, err := NewClient(Config{URL: "ws://localhost:0", QueueSize: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Emit(domain.ExecutionEvent{ExecutionID: "a", Sequence: 1}))
	assert.ErrorIs(t, client.Emit(domain.ExecutionEvent{ExecutionID: "a", Sequence: 2}), ErrQueueFull)

	client.Close()
	client.Close()
	assert.ErrorIs(t, client.Emit(domain.ExecutionEvent{ExecutionID: "a", Sequence: 3}), ErrClosed)
}

func TestConfigValidate(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, maxBackoff},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := domain.ExecutionEvent{
		ExecutionID: "e",
		ProjectName: "p",
		Sequence:    7,
		Type:        domain.EventFailed,
		PhaseID:     "test",
		TaskID:      "unit",
		SubProject:  "api",
		Message:     "boom",
		ErrorDetail: "stack",
	}
	assert.Equal(t, ev, NewEventMessage(ev).Event())
}

func TestStatusMessageCarriesModule(t *testing.T) {
	m := NewStatusMessage(domain.ExecutionStatus{ExecutionID: "e", TaskID: "build", SubProject: "web", Status: domain.RunCompleted})
	assert.Equal(t, "web", m.Module)
	assert.Equal(t, "build", m.Target)
}
