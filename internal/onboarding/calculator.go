package onboarding

import (
	"math"

	"KinLink/config"
)

const ratioEpsilon = 1e-9

// Policy 完成度计算的产品策略参数
type Policy struct {
	EssentialWeight int
	CoreWeight      int
	RichWeight      int
	// CompleteThreshold 总分达到该值即视为完成（软阈值，不要求 100）
	CompleteThreshold int
	CoreCompleteRatio float64
	RichCompleteRatio float64
}

func DefaultPolicy() Policy {
	return Policy{
		EssentialWeight:   50,
		CoreWeight:        30,
		RichWeight:        20,
		CompleteThreshold: 90,
		CoreCompleteRatio: 0.7,
		RichCompleteRatio: 0.5,
	}
}

// PolicyFromConfig 从环境配置读取策略
func PolicyFromConfig(c config.Config) Policy {
	return Policy{
		EssentialWeight:   c.OnboardingEssentialWeight,
		CoreWeight:        c.OnboardingCoreWeight,
		RichWeight:        c.OnboardingRichWeight,
		CompleteThreshold: c.OnboardingCompleteThreshold,
		CoreCompleteRatio: c.OnboardingCoreCompleteRatio,
		RichCompleteRatio: c.OnboardingRichCompleteRatio,
	}
}

func (p Policy) weight(phase PhaseID) int {
	switch phase {
	case PhaseEssential:
		return p.EssentialWeight
	case PhaseCore:
		return p.CoreWeight
	case PhaseRich:
		return p.RichWeight
	default:
		return 0
	}
}

// Percentage 必填步骤完成比例，0~100；没有必填步骤时为 100
func Percentage(p *OnboardingProgress) int {
	if p == nil {
		return 0
	}

	required, completed := 0, 0
	for _, s := range p.Steps {
		if !s.IsRequired {
			continue
		}
		required++
		if s.IsCompleted {
			completed++
		}
	}
	if required == 0 {
		return 100
	}
	return clampPercent(int(math.Round(float64(completed) / float64(required) * 100)))
}

// PhaseProgress 单个阶段的统计
type PhaseProgress struct {
	Phase            PhaseID `json:"phase"`
	Answered         int     `json:"answered"`
	Total            int     `json:"total"`
	RequiredAnswered int     `json:"required_answered"`
	RequiredTotal    int     `json:"required_total"`
	// Ratio 有必填问题时按必填问题计算，否则按全部问题计算
	Ratio   float64 `json:"ratio"`
	Percent int     `json:"percent"`
}

// CompletionSummary 统一流程的完成度
type CompletionSummary struct {
	EssentialPercent  int             `json:"essential_percent"`
	CorePercent       int             `json:"core_percent"`
	RichPercent       int             `json:"rich_percent"`
	TotalPercent      int             `json:"total_percent"`
	EssentialComplete bool            `json:"essential_complete"`
	CoreComplete      bool            `json:"core_complete"`
	RichComplete      bool            `json:"rich_complete"`
	IsComplete        bool            `json:"is_complete"`
	Phases            []PhaseProgress `json:"phases"`
}

// Calculator 按阶段权重计算完成度，纯函数
type Calculator struct {
	catalog *Catalog
	policy  Policy
}

func NewCalculator(catalog *Catalog, policy Policy) *Calculator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Calculator{catalog: catalog, policy: policy}
}

func (c *Calculator) Catalog() *Catalog {
	return c.catalog
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// Summarize 计算已回答问题集合的完成度。目录中不存在的 id 不参与计算。
func (c *Calculator) Summarize(answered IDSet) CompletionSummary {
	var (
		summary CompletionSummary
		total   float64
	)

	for _, phase := range c.catalog.Phases() {
		pp := phaseProgress(phase, answered)
		pp.Percent = clampPercent(int(math.Round(pp.Ratio * float64(c.policy.weight(phase.ID)))))
		total += pp.Ratio * float64(c.policy.weight(phase.ID))
		summary.Phases = append(summary.Phases, pp)

		switch phase.ID {
		case PhaseEssential:
			summary.EssentialPercent = pp.Percent
			summary.EssentialComplete = pp.RequiredAnswered == pp.RequiredTotal
		case PhaseCore:
			summary.CorePercent = pp.Percent
			summary.CoreComplete = pp.Ratio+ratioEpsilon >= c.policy.CoreCompleteRatio
		case PhaseRich:
			summary.RichPercent = pp.Percent
			summary.RichComplete = pp.Ratio+ratioEpsilon >= c.policy.RichCompleteRatio
		}
	}

	summary.TotalPercent = clampPercent(int(math.Round(total)))
	summary.IsComplete = summary.TotalPercent >= c.policy.CompleteThreshold
	return summary
}

// CurrentPhase 第一个尚未达标的阶段；全部达标时返回最后一个阶段
func (c *Calculator) CurrentPhase(answered IDSet) PhaseID {
	summary := c.Summarize(answered)
	done := map[PhaseID]bool{
		PhaseEssential: summary.EssentialComplete,
		PhaseCore:      summary.CoreComplete,
		PhaseRich:      summary.RichComplete,
	}

	phases := c.catalog.Phases()
	if len(phases) == 0 {
		return PhaseEssential
	}
	for _, p := range phases {
		if complete, known := done[p.ID]; known && !complete {
			return p.ID
		}
	}
	return phases[len(phases)-1].ID
}

func phaseProgress(phase Phase, answered IDSet) PhaseProgress {
	pp := PhaseProgress{Phase: phase.ID, Total: len(phase.Questions)}
	for _, q := range phase.Questions {
		hit := answered.Has(q.ID)
		if hit {
			pp.Answered++
		}
		if q.Required {
			pp.RequiredTotal++
			if hit {
				pp.RequiredAnswered++
			}
		}
	}

	switch {
	case pp.RequiredTotal > 0:
		pp.Ratio = float64(pp.RequiredAnswered) / float64(pp.RequiredTotal)
	case pp.Total > 0:
		pp.Ratio = float64(pp.Answered) / float64(pp.Total)
	default:
		// 空阶段视为已完成
		pp.Ratio = 1
	}
	return pp
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
