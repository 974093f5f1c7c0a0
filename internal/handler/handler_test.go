package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KinLink/internal/middleware"
	"KinLink/internal/model/dto"
	"KinLink/pkg/errors"
)

type fakeOnboarding struct {
	userID   string
	progress *dto.OnboardingProgressData
	items    []dto.OnboardingAnswerData
	err      error
}

func (f *fakeOnboarding) GetProgress(_ context.Context, userID string) (*dto.OnboardingProgressData, error) {
	f.userID = userID
	return f.progress, f.err
}

func (f *fakeOnboarding) SaveProgress(_ context.Context, userID string, req dto.OnboardingProgressData) (*dto.OnboardingProgressData, error) {
	f.userID = userID
	f.progress = &req
	return &req, f.err
}

func (f *fakeOnboarding) ListAnswers(_ context.Context, userID string) (*dto.OnboardingAnswersData, error) {
	f.userID = userID
	return &dto.OnboardingAnswersData{Answers: []dto.OnboardingAnswerData{}}, f.err
}

func (f *fakeOnboarding) SaveAnswers(_ context.Context, userID string, items []dto.OnboardingAnswerData) (*dto.OnboardingAnswersData, error) {
	f.userID = userID
	f.items = items
	if f.err != nil {
		return nil, f.err
	}
	return &dto.OnboardingAnswersData{Answers: items}, nil
}

func (f *fakeOnboarding) Complete(_ context.Context, userID string) (*dto.CompleteOnboardingData, error) {
	f.userID = userID
	if f.err != nil {
		return nil, f.err
	}
	return &dto.CompleteOnboardingData{IsCompleted: true, TotalPercent: 92}, nil
}

type fakeUsers struct {
	err error
}

func (f *fakeUsers) GetProfile(_ context.Context, userID string) (*dto.UserProfileData, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dto.UserProfileData{ID: userID, PreferredName: "Bea", Status: "onboarding"}, nil
}

// withUser 代替 jwt 中间件写入身份
func withUser(id string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if id != "" {
			c.Set(middleware.IdentityKey, id)
		}
		c.Next(ctx)
	}
}

func newEngine(user string, svc OnboardingService, users UserService) *route.Engine {
	e := route.NewEngine(hertzconfig.NewOptions(nil))
	e.Use(withUser(user))

	oh := NewOnboardingHandler(svc)
	uh := NewUserHandler(users)
	e.GET("/v1/users/me", uh.GetProfile)
	e.GET("/v1/users/onboarding-progress", oh.GetProgress)
	e.POST("/v1/users/onboarding-progress", oh.SaveProgress)
	e.GET("/v1/users/onboarding/answers", oh.ListAnswers)
	e.POST("/v1/users/onboarding/answers", oh.SaveAnswer)
	e.POST("/v1/users/onboarding/answers/batch", oh.SaveAnswers)
	e.POST("/v1/users/onboarding/complete", oh.Complete)
	return e
}

func jsonBody(t *testing.T, v interface{}) *ut.Body {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
}

var contentJSON = ut.Header{Key: "Content-Type", Value: "application/json"}

func decodeData(t *testing.T, body []byte, out interface{}) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(body, &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp.Error.Code
}

func TestGetProgress(t *testing.T) {
	svc := &fakeOnboarding{progress: &dto.OnboardingProgressData{CurrentStep: 2, CompletedSteps: []string{"welcome"}}}
	e := newEngine("42", svc, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodGet, "/v1/users/onboarding-progress", nil).Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var got dto.OnboardingProgressData
	decodeData(t, resp.Body(), &got)
	assert.Equal(t, []string{"welcome"}, got.CompletedSteps)
	assert.Equal(t, "42", svc.userID)
}

func TestGetProgressMissingIs404(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{err: errors.OnboardingProgressMissing}, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodGet, "/v1/users/onboarding-progress", nil).Result()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.Equal(t, errors.OnboardingProgressMissing.Code, errorCode(t, resp.Body()))
}

func TestSaveProgress(t *testing.T) {
	svc := &fakeOnboarding{}
	e := newEngine("42", svc, &fakeUsers{})
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding-progress",
		jsonBody(t, dto.OnboardingProgressData{CurrentStep: 3, CompletedSteps: []string{"welcome", "basic_info"}, LastUpdated: at}),
		contentJSON,
	).Result()

	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.NotNil(t, svc.progress)
	assert.Equal(t, []string{"welcome", "basic_info"}, svc.progress.CompletedSteps)
	assert.True(t, at.Equal(svc.progress.LastUpdated))
}

func TestSaveProgressBadJSON(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{}, &fakeUsers{})
	raw := []byte("{not json")

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding-progress",
		&ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}, contentJSON).Result()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, errors.InvalidRequest.Code, errorCode(t, resp.Body()))
}

func TestSaveAnswerWrapsSingleItem(t *testing.T) {
	svc := &fakeOnboarding{}
	e := newEngine("42", svc, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding/answers",
		jsonBody(t, map[string]interface{}{"question_id": "hobbies", "value": []string{"chess"}}),
		contentJSON,
	).Result()

	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, svc.items, 1)
	assert.Equal(t, "hobbies", svc.items[0].QuestionID)
	assert.JSONEq(t, `["chess"]`, string(svc.items[0].Value))
}

func TestSaveAnswersBatch(t *testing.T) {
	svc := &fakeOnboarding{}
	e := newEngine("42", svc, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding/answers/batch",
		jsonBody(t, map[string]interface{}{"answers": []map[string]interface{}{
			{"question_id": "faith", "value": "x"},
			{"question_id": "hobbies", "value": 3},
		}}),
		contentJSON,
	).Result()

	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, svc.items, 2)
	assert.Equal(t, "faith", svc.items[0].QuestionID)
}

func TestSaveAnswersRejected(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{err: errors.OnboardingAnswerInvalid}, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding/answers/batch",
		jsonBody(t, map[string]interface{}{"answers": []map[string]interface{}{{"question_id": "faith"}}}),
		contentJSON,
	).Result()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, errors.OnboardingAnswerInvalid.Code, errorCode(t, resp.Body()))
}

func TestCompleteNotReadyIs409(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{err: errors.OnboardingNotReady}, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding/complete", nil).Result()
	assert.Equal(t, http.StatusConflict, resp.StatusCode())
}

func TestComplete(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{}, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodPost, "/v1/users/onboarding/complete", nil).Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var got dto.CompleteOnboardingData
	decodeData(t, resp.Body(), &got)
	assert.True(t, got.IsCompleted)
	assert.Equal(t, 92, got.TotalPercent)
}

func TestInternalErrorHidden(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{}, &fakeUsers{err: assert.AnError})

	resp := ut.PerformRequest(e, http.MethodGet, "/v1/users/me", nil).Result()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Equal(t, errors.Internal.Code, errorCode(t, resp.Body()))
	assert.NotContains(t, string(resp.Body()), assert.AnError.Error())
}

func TestGetProfile(t *testing.T) {
	e := newEngine("42", &fakeOnboarding{}, &fakeUsers{})

	resp := ut.PerformRequest(e, http.MethodGet, "/v1/users/me", nil).Result()
	require.Equal(t, http.StatusOK, resp.StatusCode())

	var got dto.UserProfileData
	decodeData(t, resp.Body(), &got)
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, "Bea", got.PreferredName)
}

func TestMissingIdentityIs401(t *testing.T) {
	e := newEngine("", &fakeOnboarding{}, &fakeUsers{})

	for _, path := range []string{"/v1/users/me", "/v1/users/onboarding-progress", "/v1/users/onboarding/answers"} {
		resp := ut.PerformRequest(e, http.MethodGet, path, nil).Result()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode(), path)
	}
}
