package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRouter replies with the user id and text it was handed.
type echoRouter struct{}

func (echoRouter) Handle(ctx context.Context, userID, text string) string {
	return fmt.Sprintf("%s said %s", userID, text)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub()
	srv := New(Config{Addr: ":0"}, echoRouter{}, hub)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return srv, ts, hub
}

func TestServer_Message(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"user_id":"42","text":"rates"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body struct {
		Reply string `json:"reply"`
	}
	require.NoError(t, decodeJSON(resp, &body))
	assert.Equal(t, "42 said rates", body.Reply)
}

func TestServer_MessageValidation(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid_json", body: `{`},
		{name: "missing_user_id", body: `{"text":"hi"}`},
		{name: "missing_text", body: `{"user_id":"42"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/v1/messages", "application/json",
				strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestServer_Health(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_WebsocketChatAndPush(t *testing.T) {
	_, ts, hub := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?user_id=42"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Commands round-trip over the socket.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("portfolio")))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "42 said portfolio", string(data))

	// The hub reaches the connected user for alert pushes.
	require.NoError(t, hub.Send(context.Background(), "42", "BTC up"))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "BTC up", string(data))
}

func TestServer_WebsocketRequiresUserID(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_SendWithoutSession(t *testing.T) {
	hub := NewHub()
	err := hub.Send(context.Background(), "42", "hello")
	assert.Error(t, err)
}

func decodeJSON(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
