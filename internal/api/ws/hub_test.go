package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facecheck/internal/models"
	"github.com/your-org/facecheck/internal/observability"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		<-hub.done
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.CheckinEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.CheckinEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubFiltersByActivity(t *testing.T) {
	before := testutil.ToFloat64(observability.WSConnections)
	hub, url := startHub(t)

	all := dial(t, url)
	onlyA1 := dial(t, url+"?activity_id=A1")
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(observability.WSConnections) == before+2
	}, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(models.CheckinEvent{Type: models.EventAttendanceRecorded, IdentityID: "U1", ActivityID: "A2"})
	hub.Broadcast(models.CheckinEvent{Type: models.EventAttendanceRecorded, IdentityID: "U2", ActivityID: "A1"})

	first := readEvent(t, all)
	second := readEvent(t, all)
	assert.Equal(t, "A2", first.ActivityID)
	assert.Equal(t, "A1", second.ActivityID)

	got := readEvent(t, onlyA1)
	assert.Equal(t, "A1", got.ActivityID)
	assert.Equal(t, "U2", got.IdentityID)
}

func TestHubHandleEvent(t *testing.T) {
	before := testutil.ToFloat64(observability.WSConnections)
	hub, url := startHub(t)

	conn := dial(t, url)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(observability.WSConnections) == before+1
	}, 2*time.Second, 10*time.Millisecond)

	err := hub.HandleEvent(context.Background(), models.CheckinEvent{
		Type:       models.EventEnrollmentFinished,
		IdentityID: "U1",
		Enrollment: &models.EnrollmentResult{TaskID: "t1", IdentityID: "U1", Accepted: 2},
	})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventEnrollmentFinished, ev.Type)
	require.NotNil(t, ev.Enrollment)
	assert.Equal(t, 2, ev.Enrollment.Accepted)
}
