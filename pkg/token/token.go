package token

import (
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"KinLink/config"
	"KinLink/pkg/errors"
)

const (
	IdentityKey = "uid"
)

var (
	// 这个实例会被 middleware 和 token 包共同使用
	sharedGenerator *jwt.HertzJWTMiddleware
)

func Init() error {
	if config.Cfg.JWTSecret == "" {
		return fmt.Errorf("failed to initialize token generator: %w", errors.ErrTokenGeneratorNotInitialized)
	}

	var err error
	sharedGenerator, err = jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(config.Cfg.JWTSecret),
		Timeout:     time.Duration(config.Cfg.JWTExpireMinutes) * time.Minute,
		MaxRefresh:  time.Duration(config.Cfg.JWTRefreshDays) * 24 * time.Hour,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}

	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// GenerateAccessToken 为 userID（public_id）签发 access token。
// 登录流程不在本服务内，这里主要给 onboardctl 和联调使用。
func GenerateAccessToken(userID string, ttl time.Duration) (accessToken string, expiresIn int, err error) {
	if sharedGenerator == nil {
		return "", 0, errors.ErrTokenGeneratorNotInitialized
	}
	if ttl <= 0 {
		ttl = sharedGenerator.Timeout
	}

	now := sharedGenerator.TimeFunc()
	expiresAt := now.Add(ttl)

	claims := jwtv5.MapClaims{
		IdentityKey: userID,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
	}

	accessToken, err = jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(sharedGenerator.Key)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	return accessToken, int(ttl.Seconds()), nil
}

// ParseAccessToken 校验 access token 并返回用户 ID
func ParseAccessToken(tokenString string) (userID string, err error) {
	if sharedGenerator == nil {
		return "", errors.ErrTokenGeneratorNotInitialized
	}

	token, err := jwtv5.ParseWithClaims(tokenString, jwtv5.MapClaims{}, func(token *jwtv5.Token) (interface{}, error) {
		if token.Method != jwtv5.SigningMethodHS256 {
			return nil, fmt.Errorf("%w: %v, expected HS256", errors.ErrUnexpectedSigningMethod, token.Header["alg"])
		}
		return sharedGenerator.Key, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", errors.ErrInvalidToken
	}

	claims, ok := token.Claims.(jwtv5.MapClaims)
	if !ok {
		return "", errors.ErrInvalidTokenClaims
	}

	return UserIDFromClaims(claims)
}

// UserIDFromClaims 兼容字符串和数字两种 uid 声明
func UserIDFromClaims(claims map[string]interface{}) (string, error) {
	switch uid := claims[IdentityKey].(type) {
	case string:
		if uid == "" {
			return "", errors.ErrUserIDNotFound
		}
		return uid, nil
	case float64:
		return fmt.Sprintf("%.0f", uid), nil
	default:
		return "", errors.ErrUserIDNotFound
	}
}
