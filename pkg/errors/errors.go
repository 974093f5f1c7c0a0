package errors

import "errors"

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 通用错误。
var (
	InvalidRequest  = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	TooManyRequests = Definition{Code: "TOO_MANY_REQUESTS", Message: "Too many requests"}
	Internal        = Definition{Code: "INTERNAL_ERROR", Message: "Internal error"}
)

// 认证相关错误。
var (
	Unauthorized  = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidUserID = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID format"}
	UserNotFound  = Definition{Code: "USER_NOT_FOUND", Message: "User not found"}
)

// 引导流程错误。
var (
	OnboardingStepInvalid     = Definition{Code: "ONBOARDING_STEP_INVALID", Message: "Onboarding step invalid"}
	OnboardingQuestionInvalid = Definition{Code: "ONBOARDING_QUESTION_INVALID", Message: "Onboarding question invalid"}
	OnboardingAnswerInvalid   = Definition{Code: "ONBOARDING_ANSWER_INVALID", Message: "Onboarding answer invalid"}
	OnboardingProgressMissing = Definition{Code: "ONBOARDING_PROGRESS_NOT_FOUND", Message: "Onboarding progress not found"}
	OnboardingNotReady        = Definition{Code: "ONBOARDING_NOT_READY", Message: "Onboarding is not complete enough to finish"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	InvalidRequest.Code:            InvalidRequest,
	TooManyRequests.Code:           TooManyRequests,
	Internal.Code:                  Internal,
	Unauthorized.Code:              Unauthorized,
	InvalidUserID.Code:             InvalidUserID,
	UserNotFound.Code:              UserNotFound,
	OnboardingStepInvalid.Code:     OnboardingStepInvalid,
	OnboardingQuestionInvalid.Code: OnboardingQuestionInvalid,
	OnboardingAnswerInvalid.Code:   OnboardingAnswerInvalid,
	OnboardingProgressMissing.Code: OnboardingProgressMissing,
	OnboardingNotReady.Code:        OnboardingNotReady,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// token 相关的内部错误，不直接暴露给客户端
var (
	ErrTokenGeneratorNotInitialized = errors.New("token generator not initialized")
	ErrUnexpectedSigningMethod      = errors.New("unexpected signing method")
	ErrInvalidToken                 = errors.New("invalid token")
	ErrInvalidTokenClaims           = errors.New("invalid token claims")
	ErrUserIDNotFound               = errors.New("user id not found in token")
)

// SkipMessageError 表示消息已处理过，消费者应直接 ack
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return "skip message: " + e.Reason
}
