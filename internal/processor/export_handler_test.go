package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/Guizzs26/openmusic-export/internal/broker"
	"github.com/Guizzs26/openmusic-export/internal/mail"
	"github.com/Guizzs26/openmusic-export/internal/mapper"
	"github.com/Guizzs26/openmusic-export/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	playlists map[string]models.PlaylistSnapshot
	err       error
}

func (s *fakeStore) GetPlaylistSnapshot(_ context.Context, id string) (models.PlaylistSnapshot, error) {
	if s.err != nil {
		return models.PlaylistSnapshot{}, s.err
	}
	snap, ok := s.playlists[id]
	if !ok {
		return models.PlaylistSnapshot{}, models.ErrPlaylistNotFound
	}
	return snap, nil
}

type sentMail struct {
	to   string
	body string
}

// fakeMailer fails with the queued errors first, then succeeds
type fakeMailer struct {
	mu       sync.Mutex
	failures []error
	sent     []sentMail
	attempts int
}

func (m *fakeMailer) Send(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", err
	}
	m.sent = append(m.sent, sentMail{to: to, body: body})
	return fmt.Sprintf("<delivery-%d@test>", len(m.sent)), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func p1Store() *fakeStore {
	return &fakeStore{playlists: map[string]models.PlaylistSnapshot{
		"p1": {
			ID:    "p1",
			Name:  "Favorites",
			Owner: "dicoding",
			Songs: []models.SongSummary{
				{ID: "song-1", Title: "Yellow", Performer: "Coldplay"},
				{ID: "song-2", Title: "Clocks", Performer: "Coldplay"},
			},
		},
	}}
}

func envelope(t *testing.T, playlistID, email string) []byte {
	t.Helper()
	body, err := json.Marshal(models.ExportJob{PlaylistID: playlistID, TargetEmail: email})
	require.NoError(t, err)
	return body
}

func newHandler(store PlaylistReader, mailer MailSender) *ExportHandler {
	return NewExportHandler(store, mapper.NewPlaylistRenderer(), mailer, 0, discardLogger())
}

func TestProcessExistingPlaylistIsAcked(t *testing.T) {
	mailer := &fakeMailer{}
	h := newHandler(p1Store(), mailer)

	out := h.Process(context.Background(), envelope(t, "p1", "x@example.com"))

	assert.Equal(t, StateAcked, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, "<delivery-1@test>", out.DeliveryID)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "x@example.com", mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].body, "Yellow")
	assert.Contains(t, mailer.sent[0].body, "Clocks")
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		store    *fakeStore
		mailErr  error
		state    State
		failedAt State
		reason   string
	}{
		{
			name:     "invalid json",
			body:     []byte(`{"playlistId":`),
			store:    p1Store(),
			state:    StateFailed,
			failedAt: StateReceived,
			reason:   "validation",
		},
		{
			name:     "missing target email",
			body:     []byte(`{"playlistId":"p1"}`),
			store:    p1Store(),
			state:    StateFailed,
			failedAt: StateReceived,
			reason:   "validation",
		},
		{
			name:     "playlist deleted after enqueue",
			body:     envelope(t, "ghost", "x@example.com"),
			store:    p1Store(),
			state:    StateFailed,
			failedAt: StateFetching,
			reason:   "not_found",
		},
		{
			name:     "store unavailable",
			body:     envelope(t, "p1", "x@example.com"),
			store:    &fakeStore{err: fmt.Errorf("%w: connection reset", models.ErrUpstream)},
			state:    StateRequeued,
			failedAt: StateFetching,
			reason:   "upstream",
		},
		{
			name:     "transport refused",
			body:     envelope(t, "p1", "x@example.com"),
			store:    p1Store(),
			mailErr:  fmt.Errorf("%w: dial tcp: connection refused", models.ErrTransient),
			state:    StateRequeued,
			failedAt: StateSending,
			reason:   "transient",
		},
		{
			name:     "invalid address",
			body:     envelope(t, "p1", "not-an-address"),
			store:    p1Store(),
			mailErr:  mail.ErrInvalidAddress,
			state:    StateFailed,
			failedAt: StateSending,
			reason:   "permanent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &fakeMailer{}
			if tt.mailErr != nil {
				mailer.failures = []error{tt.mailErr}
			}
			out := newHandler(tt.store, mailer).Process(context.Background(), tt.body)

			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.failedAt, out.FailedAt)
			assert.Equal(t, tt.reason, out.Reason())
			assert.Error(t, out.Err)
			assert.Empty(t, mailer.sent)
		})
	}
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	for _, id := range []string{"p1", "ghost"} {
		body := envelope(t, id, "x@example.com")

		first := newHandler(p1Store(), &fakeMailer{}).Process(context.Background(), body)
		second := newHandler(p1Store(), &fakeMailer{}).Process(context.Background(), body)

		assert.Equal(t, first.State, second.State, id)
		assert.Equal(t, first.Reason(), second.Reason(), id)
	}
}

func TestHandleGhostPlaylistIsDeadLettered(t *testing.T) {
	b := broker.NewMemoryBroker()
	mailer := &fakeMailer{}
	h := newHandler(p1Store(), mailer)

	body := envelope(t, "ghost", "x@example.com")
	require.NoError(t, b.Publish(context.Background(), models.ExportPlaylistTopic, body))

	n := b.DeliverPending(context.Background(), models.ExportPlaylistTopic, h.Handle, 10)

	assert.Equal(t, 1, n)
	assert.Equal(t, 0, b.Pending(models.ExportPlaylistTopic))
	assert.Equal(t, [][]byte{body}, b.DeadLetters(models.ExportPlaylistTopic))
	assert.Zero(t, mailer.attempts)
}

func TestHandleTransientFailureRetriedUntilAcked(t *testing.T) {
	b := broker.NewMemoryBroker()
	mailer := &fakeMailer{failures: []error{fmt.Errorf("%w: connection refused", models.ErrTransient)}}
	h := newHandler(p1Store(), mailer)

	require.NoError(t, b.Publish(context.Background(), models.ExportPlaylistTopic, envelope(t, "p1", "x@example.com")))

	n := b.DeliverPending(context.Background(), models.ExportPlaylistTopic, h.Handle, 10)

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, mailer.attempts)
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, 0, b.Pending(models.ExportPlaylistTopic))
	assert.Empty(t, b.DeadLetters(models.ExportPlaylistTopic))
}

func TestHandleEveryJobReachesTerminalState(t *testing.T) {
	b := broker.NewMemoryBroker()
	mailer := &fakeMailer{}
	h := newHandler(p1Store(), mailer)

	bodies := [][]byte{
		envelope(t, "p1", "a@example.com"),
		envelope(t, "ghost", "b@example.com"),
		[]byte("not json"),
		envelope(t, "p1", "c@example.com"),
	}
	for _, body := range bodies {
		require.NoError(t, b.Publish(context.Background(), models.ExportPlaylistTopic, body))
	}

	b.DeliverPending(context.Background(), models.ExportPlaylistTopic, h.Handle, 10)

	assert.Equal(t, 0, b.Pending(models.ExportPlaylistTopic))
	assert.Len(t, mailer.sent, 2)
	assert.Len(t, b.DeadLetters(models.ExportPlaylistTopic), 2)
}
