package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoAgentServer accepts one WebSocket connection and echoes each request
// envelope's payload back under the same id, standing in for a minimal
// AFCP-speaking agent.
func echoAgentServer(t *testing.T, mutate func(env envelope) envelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var env envelope
			require.NoError(t, json.Unmarshal(data, &env))

			reply := mutate(env)
			out, err := json.Marshal(reply)
			if err != nil {
				return
			}
			if err := c.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):]
}

func TestTransport_SendReceivesEchoedPayload(t *testing.T) {
	server := echoAgentServer(t, func(env envelope) envelope {
		return envelope{ID: env.ID, Payload: env.Payload}
	})
	defer server.Close()

	tr := New(nil)
	defer tr.Close()

	resp, err := tr.Send(context.Background(), wsURL(server), "greet", []byte(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(resp))
}

func TestTransport_ReusesConnectionAcrossCalls(t *testing.T) {
	var seen []string
	server := echoAgentServer(t, func(env envelope) envelope {
		seen = append(seen, env.ID)
		return envelope{ID: env.ID, Payload: env.Payload}
	})
	defer server.Close()

	tr := New(nil)
	defer tr.Close()

	for i := 0; i < 3; i++ {
		_, err := tr.Send(context.Background(), wsURL(server), "greet", []byte("null"))
		require.NoError(t, err)
	}
	assert.Len(t, tr.conns, 1, "repeated calls to the same endpoint should reuse one connection")
	assert.Len(t, seen, 3)
}

func TestTransport_AgentErrorEnvelopeIsRefused(t *testing.T) {
	server := echoAgentServer(t, func(env envelope) envelope {
		return envelope{ID: env.ID, Error: "capability not supported"}
	})
	defer server.Close()

	tr := New(nil)
	defer tr.Close()

	_, err := tr.Send(context.Background(), wsURL(server), "greet", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Contains(t, err.Error(), "capability not supported")
}

func TestTransport_ContextCancellationWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		// Read but never reply, forcing the caller to hit its own deadline.
		_, _, _ = c.Read(r.Context())
		<-r.Context().Done()
	}))
	defer server.Close()

	tr := New(nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, wsURL(server), "greet", nil)
	require.Error(t, err)
}

func TestTransport_DialFailureIsRefused(t *testing.T) {
	tr := New(nil)
	defer tr.Close()

	_, err := tr.Send(context.Background(), "ws://127.0.0.1:1", "greet", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
