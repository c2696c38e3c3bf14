package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unisocial-auth/internal/model"
)

type queueSource struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (q *queueSource) Consume(ctx context.Context) (*kafka.Message, error) {
	q.mu.Lock()
	if len(q.messages) > 0 {
		msg := q.messages[0]
		q.messages = q.messages[1:]
		q.mu.Unlock()
		return &msg, nil
	}
	q.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingSender struct {
	mu    sync.Mutex
	sent  map[string]string
	fails map[string]bool
}

func (s *recordingSender) SendOTP(to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails[to] {
		return errors.New("smtp rejected")
	}
	if s.sent == nil {
		s.sent = make(map[string]string)
	}
	s.sent[to] = code
	return nil
}

func mailMessage(t *testing.T, email, code string) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(model.OTPMailMessage{
		Email:       email,
		Code:        code,
		RequestedAt: time.Now(),
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(email), Value: payload}
}

func TestWorkerPoolSendsMail(t *testing.T) {
	t.Parallel()

	source := &queueSource{messages: []kafka.Message{
		mailMessage(t, "alice@example.com", "123456"),
		{Key: []byte("broken"), Value: []byte("{not json")},
		mailMessage(t, "bob@example.com", "654321"),
	}}
	sender := &recordingSender{fails: map[string]bool{}}

	pool := NewWorkerPool(source, sender, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "123456", sender.sent["alice@example.com"])
	assert.Equal(t, "654321", sender.sent["bob@example.com"])
}

func TestWorkerPoolSkipsFailedSends(t *testing.T) {
	t.Parallel()

	source := &queueSource{messages: []kafka.Message{
		mailMessage(t, "down@example.com", "111111"),
		mailMessage(t, "alice@example.com", "222222"),
	}}
	sender := &recordingSender{fails: map[string]bool{"down@example.com": true}}

	pool := NewWorkerPool(source, sender, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.sent["alice@example.com"] == "222222"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotContains(t, sender.sent, "down@example.com")
}
