package progressws_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
	"github.com/book-expert/pdf-to-image-service/internal/progressws"
)

func startHub(t *testing.T) (*progressws.Hub, string) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := progressws.NewHub(log)
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, hub *progressws.Hub, url string, wantClients int) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount() == wantClients
	}, 2*time.Second, 10*time.Millisecond)

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) progressws.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var message progressws.Message
	require.NoError(t, conn.ReadJSON(&message))

	return message
}

func TestHub_BroadcastsProgressToEveryClient(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)
	first := dial(t, hub, url, 1)
	second := dial(t, hub, url, 2)

	update := pdfrender.Progress{
		Label:          pdfrender.DocumentLabel(1, 2),
		Completed:      0,
		Total:          2,
		PagesCompleted: 3,
		PagesTotal:     5,
	}
	hub.Progress(update)

	for _, conn := range []*websocket.Conn{first, second} {
		message := readMessage(t, conn)
		assert.Equal(t, progressws.TypeProgress, message.Type)
		require.NotNil(t, message.Progress)
		assert.Equal(t, update, *message.Progress)
	}
}

func TestHub_DoneSummary(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	hub.Done(pdfrender.BatchResult{
		RunID: "run-1",
		Jobs: []pdfrender.JobResult{
			{
				Err:       nil,
				Source:    "/in/a.pdf",
				BaseName:  "a",
				Status:    pdfrender.JobCompleted,
				Outputs:   []pdfrender.PageOutput{{Path: "/out/a.png", Index: 0}},
				Failures:  nil,
				PageCount: 1,
			},
			{
				Err:       errors.New("locked"),
				Source:    "/in/b.pdf",
				BaseName:  "b",
				Status:    pdfrender.JobFailed,
				Outputs:   nil,
				Failures:  nil,
				PageCount: 0,
			},
		},
	})

	message := readMessage(t, conn)
	assert.Equal(t, progressws.TypeDone, message.Type)
	require.NotNil(t, message.Summary)
	assert.Equal(t, "run-1", message.Summary.RunID)
	assert.Equal(t, 2, message.Summary.Documents)
	assert.Equal(t, 1, message.Summary.PagesWritten)
	assert.False(t, message.Summary.Success)
	assert.Equal(t, []string{"b.pdf"}, message.Summary.Failed)
}

func TestHub_LateClientReceivesLatestState(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)
	early := dial(t, hub, url, 1)

	hub.Progress(pdfrender.Progress{Label: "first", Completed: 1, Total: 3, PagesCompleted: 0, PagesTotal: 0})
	assert.Equal(t, "first", readMessage(t, early).Progress.Label)

	late := dial(t, hub, url, 2)
	message := readMessage(t, late)
	require.NotNil(t, message.Progress)
	assert.Equal(t, 1, message.Progress.Completed)
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	t.Parallel()

	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishAfterStopDoesNotBlock(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := progressws.NewHub(log)

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	cancel()
	<-stopped

	finished := make(chan struct{})
	go func() {
		for range 100 {
			hub.Progress(pdfrender.Progress{Label: "x", Completed: 0, Total: 1, PagesCompleted: 0, PagesTotal: 0})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing after stop blocked")
	}
}

func TestHub_DeliversQueuedMessagesBeforeStopping(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := progressws.NewHub(log)

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)

	conn := dial(t, hub, "ws"+strings.TrimPrefix(server.URL, "http"), 1)

	for page := range 10 {
		hub.Progress(pdfrender.Progress{Label: "doc", Completed: 0, Total: 1, PagesCompleted: page + 1, PagesTotal: 10})
	}

	hub.Done(pdfrender.BatchResult{RunID: "run-final", Jobs: nil})
	cancel()
	<-stopped

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var received []progressws.Message

	for {
		var message progressws.Message
		if readErr := conn.ReadJSON(&message); readErr != nil {
			break
		}

		received = append(received, message)
	}

	require.Len(t, received, 11)
	assert.Equal(t, 10, received[9].Progress.PagesCompleted)

	final := received[10]
	assert.Equal(t, progressws.TypeDone, final.Type)
	require.NotNil(t, final.Summary)
	assert.Equal(t, "run-final", final.Summary.RunID)
}
