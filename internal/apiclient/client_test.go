package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KinLink/internal/onboarding"
)

type recorded struct {
	method    string
	path      string
	auth      string
	requestID string
	body      []byte
}

type testServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{routes: map[string]func(http.ResponseWriter, *http.Request){}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recorded{
			method:    r.Method,
			path:      r.URL.Path,
			auth:      r.Header.Get("Authorization"),
			requestID: r.Header.Get(requestIDHeader),
			body:      body,
		})
		h := s.routes[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if h == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) handle(method, path string, h func(w http.ResponseWriter, r *http.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = h
}

func (s *testServer) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func newTestClient(t *testing.T, s *testServer) *Client {
	t.Helper()
	c, err := New(s.URL, "tkn", WithTimeout(2*time.Second))
	require.NoError(t, err)
	return c
}

func TestFetchProgress(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodGet, progressPath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]interface{}{
			"current_step":    3,
			"completed_steps": []string{"welcome", "basic_info"},
			"is_completed":    false,
			"last_updated":    "2024-05-01T10:00:00Z",
		})
	})
	c := newTestClient(t, s)

	p, err := c.FetchProgress(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.CurrentStep)
	assert.Equal(t, []string{"welcome", "basic_info"}, p.CompletedSteps)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), p.LastUpdated.UTC())

	req := s.last()
	assert.Equal(t, "Bearer tkn", req.auth)
	assert.NotEmpty(t, req.requestID)
}

func TestFetchProgressNotFound(t *testing.T) {
	s := newTestServer(t)
	c := newTestClient(t, s)

	p, err := c.FetchProgress(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	answers, err := c.FetchAnswers(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestPushProgress(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodPost, progressPath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	c := newTestClient(t, s)

	err := c.PushProgress(context.Background(), "u1", onboarding.RemoteProgress{
		CurrentStep:    2,
		CompletedSteps: []string{"welcome"},
	})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(s.last().body, &body))
	assert.Equal(t, float64(2), body["current_step"])
	assert.Equal(t, []interface{}{"welcome"}, body["completed_steps"])
}

func TestSaveAnswers(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodPost, answersBatchPath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	s.handle(http.MethodPost, answersPath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, nil)
	})
	c := newTestClient(t, s)
	ctx := context.Background()

	a := onboarding.Answer{QuestionID: "hometown", Value: json.RawMessage(`"Accra"`), Phase: onboarding.PhaseEssential}
	require.NoError(t, c.SaveAnswer(ctx, "u1", a))
	assert.Equal(t, answersPath, s.last().path)
	assert.JSONEq(t, `"Accra"`, gjson(t, s.last().body, "value"))

	require.NoError(t, c.SaveAnswers(ctx, "u1", []onboarding.Answer{a, a}))
	assert.Equal(t, answersBatchPath, s.last().path)

	var batch struct {
		Answers []map[string]interface{} `json:"answers"`
	}
	require.NoError(t, json.Unmarshal(s.last().body, &batch))
	assert.Len(t, batch.Answers, 2)
	assert.Equal(t, "essential", batch.Answers[0]["phase"])
}

func gjson(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}

func TestFetchAnswers(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodGet, answersPath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]interface{}{
			"answers": []map[string]interface{}{
				{"question_id": "hobbies", "value": []string{"chess"}, "phase": "core", "answered_at": "2024-05-01T10:00:00Z"},
			},
			"summary": map[string]interface{}{"total_percent": 3},
		})
	})
	c := newTestClient(t, s)

	answers, err := c.FetchAnswers(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "hobbies", answers[0].QuestionID)
	assert.Equal(t, onboarding.PhaseCore, answers[0].Phase)
	assert.JSONEq(t, `["chess"]`, string(answers[0].Value))
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodPost, completePath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"ONBOARDING_NOT_READY","message":"not ready"}}`))
	})
	s.handle(http.MethodPost, progressPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, s)
	ctx := context.Background()

	err := c.MarkComplete(ctx, "u1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "ONBOARDING_NOT_READY", se.Code)
	assert.True(t, se.Rejected())
	var rejected onboarding.RejectedError
	assert.True(t, errors.As(err, &rejected), "coordinator sees rejections through the interface")

	err = c.PushProgress(ctx, "u1", onboarding.RemoteProgress{})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.False(t, se.Rejected())
}

func TestStatusErrorRejected(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusConflict, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, (&StatusError{StatusCode: tt.status}).Rejected(), http.StatusText(tt.status))
	}
}

func TestFetchProfileNormalizesAliases(t *testing.T) {
	s := newTestServer(t)
	s.handle(http.MethodGet, profilePath, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]interface{}{
			"id":            "42",
			"preferredName": "Bea",
			"avatarUrl":     "https://cdn.example/bea.png",
			"status":        "active",
		})
	})
	c := newTestClient(t, s)

	p, err := c.FetchProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, "Bea", p.PreferredName)
	assert.Equal(t, "https://cdn.example/bea.png", p.AvatarURL)
	assert.True(t, p.OnboardingCompleted)
}

func TestContextDeadline(t *testing.T) {
	s := newTestServer(t)
	release := make(chan struct{})
	s.handle(http.MethodGet, progressPath, func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeData(w, http.StatusOK, nil)
	})
	t.Cleanup(func() { close(release) })
	c := newTestClient(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchProgress(ctx, "u1")
	assert.Error(t, err)
}
