package onboarding

// recommendTiers 推荐顺序：先 critical，再 high，最后按目录顺序兜底
var recommendTiers = []MatchingValue{MatchingCritical, MatchingHigh}

// NextQuestion 贪心且顺序稳定：相同的已回答集合总是得到同一个问题
func NextQuestion(catalog *Catalog, answered IDSet) (Question, bool) {
	questions := catalog.Questions()

	for _, tier := range recommendTiers {
		for _, q := range questions {
			if q.MatchingValue == tier && !answered.Has(q.ID) {
				return q, true
			}
		}
	}

	for _, q := range questions {
		if !answered.Has(q.ID) {
			return q, true
		}
	}
	return Question{}, false
}

// NextStep 按顺序返回第一个未完成的步骤，不区分必填与可选
func NextStep(p *OnboardingProgress) (OnboardingStep, bool) {
	if p == nil {
		return OnboardingStep{}, false
	}
	for _, s := range p.Steps {
		if !s.IsCompleted {
			return s, true
		}
	}
	return OnboardingStep{}, false
}
