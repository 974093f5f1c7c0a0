package model

import (
	"fmt"
	"strconv"
	"strings"
)

// UserProfile 客户端使用的唯一资料类型，所有字段别名只在 NormalizeProfile 中处理
type UserProfile struct {
	ID                  string `json:"id"`
	PreferredName       string `json:"preferred_name"`
	FullName            string `json:"full_name"`
	AvatarURL           string `json:"avatar_url"`
	FamilyRole          string `json:"family_role"`
	CurrentCity         string `json:"current_city"`
	Hometown            string `json:"hometown"`
	BirthDate           string `json:"birth_date"`
	Status              string `json:"status"`
	OnboardingCompleted bool   `json:"onboarding_completed"`
}

var profileAliases = map[string][]string{
	"id":             {"id", "public_id", "publicId", "user_id", "userId"},
	"preferred_name": {"preferred_name", "preferredName", "nickname", "display_name", "displayName"},
	"full_name":      {"full_name", "fullName", "name"},
	"avatar_url":     {"avatar_url", "avatarUrl", "profile_photo_url", "profilePhotoUrl", "photo_url", "photoUrl"},
	"family_role":    {"family_role", "familyRole", "role"},
	"current_city":   {"current_city", "currentCity", "city", "location"},
	"hometown":       {"hometown", "home_town", "homeTown"},
	"birth_date":     {"birth_date", "birthDate", "birthday", "dob"},
	"status":         {"status", "account_status", "accountStatus"},
}

// NormalizeProfile 把远端返回的任意命名风格的资料转换为 UserProfile。
// 同一字段出现多个别名时取第一个非空值。
func NormalizeProfile(raw map[string]interface{}) UserProfile {
	pick := func(field string) string {
		for _, alias := range profileAliases[field] {
			if s := stringify(raw[alias]); s != "" {
				return s
			}
		}
		return ""
	}

	p := UserProfile{
		ID:            pick("id"),
		PreferredName: pick("preferred_name"),
		FullName:      pick("full_name"),
		AvatarURL:     pick("avatar_url"),
		FamilyRole:    pick("family_role"),
		CurrentCity:   pick("current_city"),
		Hometown:      pick("hometown"),
		BirthDate:     pick("birth_date"),
		Status:        pick("status"),
	}

	for _, alias := range []string{"onboarding_completed", "onboardingCompleted", "is_onboarded", "isOnboarded"} {
		if v, ok := raw[alias].(bool); ok {
			p.OnboardingCompleted = v
			break
		}
	}
	if !p.OnboardingCompleted && p.Status == string(UserStatusActive) {
		p.OnboardingCompleted = true
	}
	return p
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
