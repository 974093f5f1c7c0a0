package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/google/uuid"
	"github.com/hertz-contrib/obs-opentelemetry/tracing"

	"KinLink/internal/model"
	"KinLink/internal/model/dto"
	"KinLink/internal/onboarding"
)

const (
	progressPath      = "/v1/users/onboarding-progress"
	answersPath       = "/v1/users/onboarding/answers"
	answersBatchPath  = "/v1/users/onboarding/answers/batch"
	completePath      = "/v1/users/onboarding/complete"
	profilePath       = "/v1/users/me"
	requestIDHeader   = "X-Request-ID"
	defaultReqTimeout = 10 * time.Second
)

// StatusError 远端返回的非 2xx 响应
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("remote returned %d", e.StatusCode)
}

// Rejected 4xx 表示请求已送达但被拒绝，408 和 429 按暂时性故障处理
func (e *StatusError) Rejected() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client KinLink API 的 HTTP 客户端，实现 onboarding.Remote。
// 身份由 bearer token 决定，方法中的 userID 只用于日志。
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	hc      *client.Client
}

type options struct {
	timeout time.Duration
	tracing bool
}

type Option func(*options)

// WithTimeout ctx 没有截止时间时使用的单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTracing 为出站请求注入 OpenTelemetry 链路信息
func WithTracing() Option {
	return func(o *options) { o.tracing = true }
}

func New(baseURL, token string, opts ...Option) (*Client, error) {
	o := options{timeout: defaultReqTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	var hcOpts []config.ClientOption
	hcOpts = append(hcOpts, client.WithDialTimeout(5*time.Second))

	var tracerCfg *tracing.Config
	if o.tracing {
		suite, cfg := tracing.NewClientTracer()
		hcOpts = append(hcOpts, suite)
		tracerCfg = cfg
	}

	hc, err := client.NewClient(hcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	if tracerCfg != nil {
		hc.Use(tracing.ClientMiddleware(tracerCfg))
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: o.timeout,
		hc:      hc,
	}, nil
}

// FetchProgress 远端没有记录时返回 nil, nil
func (c *Client) FetchProgress(ctx context.Context, _ string) (*onboarding.RemoteProgress, error) {
	var data dto.OnboardingProgressData
	found, err := c.do(ctx, http.MethodGet, progressPath, nil, &data)
	if err != nil || !found {
		return nil, err
	}
	return &onboarding.RemoteProgress{
		CurrentStep:    data.CurrentStep,
		CompletedSteps: data.CompletedSteps,
		IsCompleted:    data.IsCompleted,
		LastUpdated:    data.LastUpdated,
	}, nil
}

func (c *Client) PushProgress(ctx context.Context, _ string, p onboarding.RemoteProgress) error {
	body := dto.OnboardingProgressData{
		CurrentStep:    p.CurrentStep,
		CompletedSteps: p.CompletedSteps,
		IsCompleted:    p.IsCompleted,
		LastUpdated:    p.LastUpdated,
	}
	_, err := c.do(ctx, http.MethodPost, progressPath, body, nil)
	return err
}

func (c *Client) SaveAnswer(ctx context.Context, _ string, a onboarding.Answer) error {
	_, err := c.do(ctx, http.MethodPost, answersPath, toAnswerData(a), nil)
	return err
}

func (c *Client) SaveAnswers(ctx context.Context, _ string, answers []onboarding.Answer) error {
	req := dto.SaveOnboardingAnswersRequest{Answers: make([]dto.OnboardingAnswerData, len(answers))}
	for i, a := range answers {
		req.Answers[i] = toAnswerData(a)
	}
	_, err := c.do(ctx, http.MethodPost, answersBatchPath, req, nil)
	return err
}

// FetchAnswers 远端没有答案时返回空列表
func (c *Client) FetchAnswers(ctx context.Context, _ string) ([]onboarding.Answer, error) {
	var data dto.OnboardingAnswersData
	found, err := c.do(ctx, http.MethodGet, answersPath, nil, &data)
	if err != nil || !found {
		return nil, err
	}

	out := make([]onboarding.Answer, len(data.Answers))
	for i, a := range data.Answers {
		out[i] = onboarding.Answer{
			QuestionID: a.QuestionID,
			Value:      a.Value,
			Phase:      onboarding.PhaseID(a.Phase),
			AnsweredAt: a.AnsweredAt,
		}
	}
	return out, nil
}

func (c *Client) MarkComplete(ctx context.Context, _ string) error {
	_, err := c.do(ctx, http.MethodPost, completePath, struct{}{}, nil)
	return err
}

// FetchProfile 获取当前用户资料，字段别名统一在 model.NormalizeProfile 中处理
func (c *Client) FetchProfile(ctx context.Context) (*model.UserProfile, error) {
	var raw map[string]interface{}
	found, err := c.do(ctx, http.MethodGet, profilePath, nil, &raw)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &StatusError{StatusCode: http.StatusNotFound}
	}
	p := model.NormalizeProfile(raw)
	return &p, nil
}

// do 发送请求并解开 {data: ...} 信封；GET 的 404 返回 found=false
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (bool, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request: %w", err)
		}
		req.Header.SetContentTypeBytes([]byte("application/json"))
		req.SetBody(data)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.hc.DoDeadline(ctx, req, resp, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return false, fmt.Errorf("%s %s: %w", method, path, err)
	}

	status := resp.StatusCode()
	if status == http.StatusNotFound && method == http.MethodGet {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, decodeError(status, resp.Body())
	}

	if out == nil || len(resp.Body()) == 0 {
		return true, nil
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return false, fmt.Errorf("failed to decode response of %s: %w", path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return false, fmt.Errorf("failed to decode data of %s: %w", path, err)
	}
	return true, nil
}

func decodeError(status int, body []byte) error {
	envelope := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	_ = json.Unmarshal(body, &envelope)
	return &StatusError{
		StatusCode: status,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
	}
}

func toAnswerData(a onboarding.Answer) dto.OnboardingAnswerData {
	return dto.OnboardingAnswerData{
		QuestionID: a.QuestionID,
		Value:      a.Value,
		Phase:      string(a.Phase),
		AnsweredAt: a.AnsweredAt,
	}
}

var _ onboarding.Remote = (*Client)(nil)
