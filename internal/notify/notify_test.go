package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"authcore.org/internal/auth"
	"authcore.org/internal/queue"
)

func TestQueueNotifierPushesJob(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client, err := queue.Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n := NewQueue(queue.NewList(client, "auth_emails"), func() time.Time { return now })
	n.SendChallenge(context.Background(), auth.FlowSignup, "a@example.com", "12345")

	items, err := mr.List("auth_emails")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var job Job
	require.NoError(t, json.Unmarshal([]byte(items[0]), &job))
	require.Equal(t, "a@example.com", job.Email)
	require.Equal(t, "12345", job.Code)
	require.Equal(t, "Complete your signup", job.Subject)
	require.True(t, job.CreatedAt.Equal(now))
}

func TestQueueNotifierSwallowsErrors(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := queue.Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	mr.Close()

	n := NewQueue(queue.NewList(client, "auth_emails"), nil)
	require.NotPanics(t, func() {
		n.SendChallenge(context.Background(), auth.FlowEmail, "a@example.com", "12345")
	})
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	NewLog(logger).SendChallenge(context.Background(), auth.FlowPassword, "a@example.com", "54321")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "challenge_issued", line["event"])
	require.Equal(t, "54321", line["code"])
}

func TestRecorder(t *testing.T) {
	var r Recorder
	_, ok := r.Last()
	require.False(t, ok)
	r.SendChallenge(context.Background(), auth.FlowEmail, "b@example.com", "11111")
	job, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, "Confirm your new email", job.Subject)
}
