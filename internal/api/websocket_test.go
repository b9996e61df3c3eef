package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-obs/perch/internal/api"
	"github.com/perch-obs/perch/pkg/models"
)

func TestLiveStream(t *testing.T) {
	h, _ := newTestServer(t, api.Options{})
	ts := httptest.NewServer(h)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the hub a beat to register the client before broadcasting.
	time.Sleep(100 * time.Millisecond)

	body, err := json.Marshal(map[string]any{
		"level": "error", "message": "live event", "appName": "checkout",
	})
	require.NoError(t, err)
	post, err := http.Post(ts.URL+"/api/v1/ingest", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type string           `json:"type"`
		Data *models.LogEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "log", event.Type)
	require.NotNil(t, event.Data)
	assert.Equal(t, "live event", event.Data.Message)
	assert.NotNil(t, event.Data.ErrorGroupID, "broadcast entry carries its group id")
}
