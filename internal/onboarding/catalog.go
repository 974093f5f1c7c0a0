package onboarding

import (
	"fmt"
	"sort"
)

// PhaseID 问题所属的阶段
type PhaseID string

const (
	PhaseEssential PhaseID = "essential"
	PhaseCore      PhaseID = "core"
	PhaseRich      PhaseID = "rich"
)

// MatchingValue 只影响推荐顺序，不影响完成度权重
type MatchingValue string

const (
	MatchingCritical MatchingValue = "critical"
	MatchingHigh     MatchingValue = "high"
	MatchingMedium   MatchingValue = "medium"
	MatchingLow      MatchingValue = "low"
)

// QuestionType 问题的输入形式
type QuestionType string

const (
	TypeText       QuestionType = "text"
	TypeMultiline  QuestionType = "multiline"
	TypeSelect     QuestionType = "select"
	TypeDate       QuestionType = "date"
	TypeStory      QuestionType = "story"
	TypeCardSelect QuestionType = "card-select"
	TypeImage      QuestionType = "image"
	TypeLocation   QuestionType = "location"
)

// StepTemplate 步骤注册表中的静态模板
type StepTemplate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Required    bool   `json:"required"`
	Order       int    `json:"order"`
	ScreenRef   string `json:"screen_ref"`
}

// Question 统一引导流程中的一个资料字段
type Question struct {
	ID            string        `json:"id"`
	Field         string        `json:"field"`
	Phase         PhaseID       `json:"phase"`
	MatchingValue MatchingValue `json:"matching_value"`
	Required      bool          `json:"required"`
	Type          QuestionType  `json:"type"`
}

// Phase 一组按顺序排列的问题
type Phase struct {
	ID             PhaseID    `json:"id"`
	RequiredForApp bool       `json:"required_for_app"`
	Questions      []Question `json:"questions"`
}

// Catalog 步骤与问题的只读目录，构造后不可变
type Catalog struct {
	steps     []StepTemplate
	phases    []Phase
	questions []Question

	stepIndex     map[string]int
	questionIndex map[string]int
}

// NewCatalog 校验并构建目录。步骤按 Order 排序，问题保持阶段内的声明顺序。
func NewCatalog(steps []StepTemplate, phases []Phase) (*Catalog, error) {
	c := &Catalog{
		steps:         make([]StepTemplate, len(steps)),
		stepIndex:     make(map[string]int, len(steps)),
		questionIndex: make(map[string]int),
	}
	copy(c.steps, steps)
	sort.SliceStable(c.steps, func(i, j int) bool { return c.steps[i].Order < c.steps[j].Order })

	orders := make(map[int]string, len(steps))
	for i, s := range c.steps {
		if s.ID == "" {
			return nil, fmt.Errorf("step at order %d has empty id", s.Order)
		}
		if _, dup := c.stepIndex[s.ID]; dup {
			return nil, fmt.Errorf("duplicate step id %q", s.ID)
		}
		if other, dup := orders[s.Order]; dup {
			return nil, fmt.Errorf("steps %q and %q share order %d", other, s.ID, s.Order)
		}
		orders[s.Order] = s.ID
		c.stepIndex[s.ID] = i
	}

	seenPhase := make(map[PhaseID]bool, len(phases))
	for _, p := range phases {
		if seenPhase[p.ID] {
			return nil, fmt.Errorf("duplicate phase %q", p.ID)
		}
		seenPhase[p.ID] = true

		qs := make([]Question, len(p.Questions))
		for i, q := range p.Questions {
			if q.ID == "" {
				return nil, fmt.Errorf("phase %q has a question with empty id", p.ID)
			}
			if _, dup := c.questionIndex[q.ID]; dup {
				return nil, fmt.Errorf("duplicate question id %q", q.ID)
			}
			// 问题的阶段以所在的 Phase 为准
			q.Phase = p.ID
			qs[i] = q
			c.questionIndex[q.ID] = len(c.questions)
			c.questions = append(c.questions, q)
		}
		c.phases = append(c.phases, Phase{ID: p.ID, RequiredForApp: p.RequiredForApp, Questions: qs})
	}

	return c, nil
}

// MustCatalog 用于静态目录，出错直接 panic
func MustCatalog(steps []StepTemplate, phases []Phase) *Catalog {
	c, err := NewCatalog(steps, phases)
	if err != nil {
		panic(err)
	}
	return c
}

// Steps 按 Order 升序返回步骤模板的副本
func (c *Catalog) Steps() []StepTemplate {
	out := make([]StepTemplate, len(c.steps))
	copy(out, c.steps)
	return out
}

// Phases 按目录顺序返回阶段的副本
func (c *Catalog) Phases() []Phase {
	out := make([]Phase, len(c.phases))
	for i, p := range c.phases {
		qs := make([]Question, len(p.Questions))
		copy(qs, p.Questions)
		out[i] = Phase{ID: p.ID, RequiredForApp: p.RequiredForApp, Questions: qs}
	}
	return out
}

// Questions 返回跨阶段的完整目录顺序
func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

func (c *Catalog) Step(id string) (StepTemplate, bool) {
	i, ok := c.stepIndex[id]
	if !ok {
		return StepTemplate{}, false
	}
	return c.steps[i], true
}

func (c *Catalog) Question(id string) (Question, bool) {
	i, ok := c.questionIndex[id]
	if !ok {
		return Question{}, false
	}
	return c.questions[i], true
}

// Phase 按 id 查找阶段
func (c *Catalog) Phase(id PhaseID) (Phase, bool) {
	for _, p := range c.phases {
		if p.ID == id {
			return p, true
		}
	}
	return Phase{}, false
}

var defaultCatalog = MustCatalog(defaultSteps, defaultPhases)

// DefaultCatalog 返回随客户端发布的内置目录
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

var defaultSteps = []StepTemplate{
	{ID: "welcome", Title: "Welcome", Description: "Meet KinLink and what it does for your family", Icon: "hand-wave", Required: true, Order: 1, ScreenRef: "OnboardingWelcome"},
	{ID: "basic_info", Title: "About you", Description: "Your name and birthday", Icon: "user", Required: true, Order: 2, ScreenRef: "OnboardingBasicInfo"},
	{ID: "profile_photo", Title: "Add a photo", Description: "Help relatives recognise you", Icon: "camera", Required: false, Order: 3, ScreenRef: "OnboardingPhoto"},
	{ID: "family_role", Title: "Your role", Description: "Parent, grandparent, sibling, cousin", Icon: "people", Required: true, Order: 4, ScreenRef: "OnboardingFamilyRole"},
	{ID: "permissions", Title: "Permissions", Description: "Contacts and notifications", Icon: "shield", Required: true, Order: 5, ScreenRef: "OnboardingPermissions"},
	{ID: "voice_intro", Title: "Voice hello", Description: "Record a short greeting", Icon: "mic", Required: false, Order: 6, ScreenRef: "OnboardingVoice"},
	{ID: "invite_family", Title: "Invite family", Description: "Bring in at least one relative", Icon: "mail", Required: true, Order: 7, ScreenRef: "OnboardingInvite"},
	{ID: "privacy", Title: "Privacy", Description: "Choose who sees what", Icon: "lock", Required: true, Order: 8, ScreenRef: "OnboardingPrivacy"},
	{ID: "review", Title: "All set", Description: "Review and finish", Icon: "check", Required: true, Order: 9, ScreenRef: "OnboardingReview"},
}

var defaultPhases = []Phase{
	{
		ID:             PhaseEssential,
		RequiredForApp: true,
		Questions: []Question{
			{ID: "preferred_name", Field: "preferredName", MatchingValue: MatchingCritical, Required: true, Type: TypeText},
			{ID: "full_name", Field: "fullName", MatchingValue: MatchingHigh, Required: true, Type: TypeText},
			{ID: "birth_date", Field: "birthDate", MatchingValue: MatchingCritical, Required: true, Type: TypeDate},
			{ID: "family_role", Field: "familyRole", MatchingValue: MatchingCritical, Required: true, Type: TypeSelect},
			{ID: "hometown", Field: "hometown", MatchingValue: MatchingHigh, Required: true, Type: TypeLocation},
			{ID: "current_city", Field: "currentCity", MatchingValue: MatchingCritical, Required: true, Type: TypeLocation},
			{ID: "profile_photo", Field: "profilePhotoUrl", MatchingValue: MatchingHigh, Required: true, Type: TypeImage},
			{ID: "languages", Field: "languages", MatchingValue: MatchingMedium, Required: true, Type: TypeCardSelect},
			{ID: "pronouns", Field: "pronouns", MatchingValue: MatchingLow, Required: false, Type: TypeSelect},
			{ID: "nickname", Field: "nickname", MatchingValue: MatchingLow, Required: false, Type: TypeText},
		},
	},
	{
		ID: PhaseCore,
		Questions: []Question{
			{ID: "family_values", Field: "familyValues", MatchingValue: MatchingCritical, Type: TypeCardSelect},
			{ID: "traditions", Field: "traditions", MatchingValue: MatchingHigh, Type: TypeMultiline},
			{ID: "occupation", Field: "occupation", MatchingValue: MatchingMedium, Type: TypeText},
			{ID: "education", Field: "education", MatchingValue: MatchingMedium, Type: TypeSelect},
			{ID: "hobbies", Field: "hobbies", MatchingValue: MatchingHigh, Type: TypeCardSelect},
			{ID: "communication_style", Field: "communicationStyle", MatchingValue: MatchingHigh, Type: TypeSelect},
			{ID: "holiday_plans", Field: "holidayPlans", MatchingValue: MatchingLow, Type: TypeMultiline},
			{ID: "faith", Field: "faith", MatchingValue: MatchingMedium, Type: TypeSelect},
			{ID: "favorite_foods", Field: "favoriteFoods", MatchingValue: MatchingLow, Type: TypeCardSelect},
			{ID: "children_count", Field: "childrenCount", MatchingValue: MatchingMedium, Type: TypeSelect},
		},
	},
	{
		ID: PhaseRich,
		Questions: []Question{
			{ID: "childhood_story", Field: "childhoodStory", MatchingValue: MatchingMedium, Type: TypeStory},
			{ID: "proudest_moment", Field: "proudestMoment", MatchingValue: MatchingHigh, Type: TypeStory},
			{ID: "family_recipe", Field: "familyRecipe", MatchingValue: MatchingLow, Type: TypeStory},
			{ID: "life_lesson", Field: "lifeLesson", MatchingValue: MatchingMedium, Type: TypeStory},
			{ID: "favorite_memory", Field: "favoriteMemory", MatchingValue: MatchingHigh, Type: TypeStory},
			{ID: "music_taste", Field: "musicTaste", MatchingValue: MatchingLow, Type: TypeCardSelect},
			{ID: "travel_dreams", Field: "travelDreams", MatchingValue: MatchingLow, Type: TypeMultiline},
			{ID: "voice_greeting", Field: "voiceGreeting", MatchingValue: MatchingLow, Type: TypeStory},
			{ID: "family_photo", Field: "familyPhotoUrl", MatchingValue: MatchingMedium, Type: TypeImage},
			{ID: "legacy_message", Field: "legacyMessage", MatchingValue: MatchingCritical, Type: TypeStory},
		},
	},
}
