package signal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	supported bool
	err       error
	sent      []Event
}

func (r *recorder) Supported(Event) bool { return r.supported }

func (r *recorder) Send(_ context.Context, ev Event) error {
	r.sent = append(r.sent, ev)
	return r.err
}

func submissionEvent() Event {
	return Event{
		Kind: KindSubmission,
		Submission: &Submission{
			ID:            "00000000-0000-7000-8000-000000000001",
			Subject:       "00000000-0000-7000-8000-000000000002",
			HomeAssistant: "2024.5.0",
			Devices:       3,
			Entities:      7,
		},
	}
}

func TestSignalSendsToSupportedProviders(t *testing.T) {
	p0 := &recorder{supported: true}
	p1 := &recorder{supported: false}

	require.NoError(t, New(p0, p1).Send(context.Background(), submissionEvent()))
	assert.Len(t, p0.sent, 1)
	assert.Empty(t, p1.sent)
}

func TestSignalJoinsProviderErrors(t *testing.T) {
	boom := errors.New("boom")
	p0 := &recorder{supported: true, err: boom}
	p1 := &recorder{supported: true}

	err := New(p0, p1).Send(context.Background(), submissionEvent())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, p1.sent, 1, "later providers still receive the event")
}

func TestSlackPostsBlocks(t *testing.T) {
	var got struct {
		Blocks []Block `json:"blocks"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	slack := NewSlack(map[Kind]string{KindSubmission: server.URL}, server.Client())
	require.True(t, slack.Supported(submissionEvent()))
	require.NoError(t, slack.Send(context.Background(), submissionEvent()))

	require.Len(t, got.Blocks, 1)
	assert.Equal(t, "section", got.Blocks[0].Type)
	assert.Equal(t, "mrkdwn", got.Blocks[0].Text.Type)
	assert.Equal(t,
		"`2024.5.0` submission from *00000000-0000-7000-8000-000000000002* (`00000000-0000-7000-8000-000000000001`): 3 devices, 7 entities",
		got.Blocks[0].Text.Text)
}

func TestSlackReportsWebhookFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	slack := NewSlack(map[Kind]string{KindSubmission: server.URL}, server.Client())
	err := slack.Send(context.Background(), submissionEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSlackWithoutWebhookIsUnsupported(t *testing.T) {
	slack := NewSlack(map[Kind]string{KindSubmission: ""}, nil)
	assert.False(t, slack.Supported(submissionEvent()))
}
