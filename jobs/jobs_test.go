package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMailer struct {
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ObserveMail(result string) { o[result]++ }

func samplePayload() VerificationEmailPayload {
	return VerificationEmailPayload{
		To:        "ada@x.io",
		Name:      "Ada",
		Kind:      "donor",
		Link:      "https://kitbridge.test/api/verify-email?token=abc",
		LoginPath: "https://kitbridge.test/donors/login",
	}
}

func TestNewVerificationEmailTask(t *testing.T) {
	task, err := NewVerificationEmailTask(samplePayload())
	require.NoError(t, err)
	assert.Equal(t, TaskTypeVerifyEmail, task.Type())

	var decoded VerificationEmailPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, samplePayload(), decoded)

	_, err = NewVerificationEmailTask(VerificationEmailPayload{To: "ada@x.io"})
	assert.Error(t, err)
}

func TestVerificationEmailHandlerSends(t *testing.T) {
	mailer := &recordingMailer{}
	observer := countingObserver{}
	handler := NewVerificationEmailHandler(mailer, observer, nil)

	task, err := NewVerificationEmailTask(samplePayload())
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), task))

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	assert.Equal(t, "ada@x.io", msg.To)
	assert.Contains(t, msg.Body, "Hello Ada")
	assert.Contains(t, msg.Body, samplePayload().Link)
	assert.Contains(t, msg.Body, samplePayload().LoginPath)
	assert.Equal(t, 1, observer["sent"])
}

func TestVerificationEmailHandlerSkipsRetryOnBadPayload(t *testing.T) {
	observer := countingObserver{}
	handler := NewVerificationEmailHandler(&recordingMailer{}, observer, nil)

	err := handler(context.Background(), asynq.NewTask(TaskTypeVerifyEmail, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 1, observer["invalid"])
}

func TestVerificationEmailHandlerRetriesOnDeliveryFailure(t *testing.T) {
	observer := countingObserver{}
	handler := NewVerificationEmailHandler(&recordingMailer{err: errors.New("relay down")}, observer, nil)

	task, err := NewVerificationEmailTask(samplePayload())
	require.NoError(t, err)
	err = handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 1, observer["failed"])
}

func TestSMTPMailerFormatsMessage(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{Host: "mail.test", From: "noreply@kitbridge.test", Username: "u", Password: "p"})
	require.NoError(t, err)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	mailer.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}

	require.NoError(t, mailer.Send(context.Background(), Message{To: "ada@x.io", Subject: "Hi", Body: "line one\nline two"}))
	assert.Equal(t, "mail.test:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "noreply@kitbridge.test", gotFrom)
	assert.Equal(t, []string{"ada@x.io"}, gotTo)
	text := string(gotMsg)
	assert.True(t, strings.HasPrefix(text, "From: noreply@kitbridge.test\r\n"))
	assert.Contains(t, text, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPMailerHonoursCancelledContext(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPConfig{Host: "mail.test", From: "noreply@kitbridge.test"})
	require.NoError(t, err)
	mailer.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, mailer.Send(ctx, Message{To: "ada@x.io"}), context.Canceled)

	_, err = NewSMTPMailer(SMTPConfig{})
	assert.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{"no inspector", nil, http.StatusOK, `{"queue":"default","pending":0,"active":0,"retry":0}`},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Active: 1}}, http.StatusOK, `{"queue":"default","pending":3,"active":1,"retry":0}`},
		{"redis down", stubInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, `{"error":"queue unavailable"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, nil).MountRoutes)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			assert.Equal(t, tc.status, rr.Code)
			assert.JSONEq(t, tc.body, rr.Body.String())
		})
	}
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	assert.Error(t, err)
}
