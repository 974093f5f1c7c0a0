package dto

// UserProfileData GET /users/me 的响应数据
type UserProfileData struct {
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
