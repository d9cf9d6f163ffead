package llm

import "github.com/estio/agentcore/internal/config"

// Task names the kind of work a model call performs
type Task string

const (
	TaskIntentClassification Task = "intent_classification"
	TaskSentimentAnalysis    Task = "sentiment_analysis"
	TaskSimpleGeneration     Task = "simple_generation"
	TaskToolSelection        Task = "tool_selection"
	TaskPropertySearch       Task = "property_search"
	TaskDraftReply           Task = "draft_reply"
	TaskQualification        Task = "qualification"
	TaskNegotiation          Task = "negotiation"
	TaskDealCoordinator      Task = "deal_coordinator"
	TaskNegotiationAdvice    Task = "negotiation_advice"
	TaskComplexPlanning      Task = "complex_planning"
	TaskMarketAnalysis       Task = "market_analysis"
	TaskReflexion            Task = "reflexion"
	TaskSummarization        Task = "summarization"
)

// Effort tiers, as suggested by the intent classifier
const (
	EffortFlash    = "flash"
	EffortStandard = "standard"
	EffortPremium  = "premium"
)

type modelClass int

const (
	classFlash modelClass = iota
	classPro
	classThinking
)

var taskClasses = map[Task]modelClass{
	TaskIntentClassification: classFlash,
	TaskSentimentAnalysis:    classFlash,
	TaskSimpleGeneration:     classFlash,
	TaskToolSelection:        classFlash,
	TaskPropertySearch:       classFlash,
	TaskSummarization:        classFlash,
	TaskDraftReply:           classPro,
	TaskQualification:        classPro,
	TaskNegotiation:          classPro,
	TaskDealCoordinator:      classPro,
	TaskNegotiationAdvice:    classPro,
	TaskReflexion:            classPro,
	TaskComplexPlanning:      classThinking,
	TaskMarketAnalysis:       classThinking,
}

// Router maps tasks and effort tiers onto the configured model ids
type Router struct {
	flash    string
	pro      string
	thinking string
}

func NewRouter(cfg config.LLMConfig) *Router {
	d := config.DefaultConfig().LLM
	r := &Router{flash: cfg.FlashModel, pro: cfg.ProModel, thinking: cfg.ThinkingModel}
	if r.flash == "" {
		r.flash = d.FlashModel
	}
	if r.pro == "" {
		r.pro = d.ProModel
	}
	if r.thinking == "" {
		r.thinking = d.ThinkingModel
	}
	return r
}

// ModelForTask returns the model for a task; unknown tasks use the flash model
func (r *Router) ModelForTask(task Task) string {
	return r.model(taskClasses[task])
}

// TierForTask returns the pacing tier for a task
func (r *Router) TierForTask(task Task) string {
	switch taskClasses[task] {
	case classPro:
		return EffortStandard
	case classThinking:
		return EffortPremium
	default:
		return EffortFlash
	}
}

// ModelForEffort maps flash/standard/premium to flash/pro/thinking
func (r *Router) ModelForEffort(effort string) string {
	switch effort {
	case EffortPremium:
		return r.thinking
	case EffortStandard:
		return r.pro
	default:
		return r.flash
	}
}

func (r *Router) model(c modelClass) string {
	switch c {
	case classPro:
		return r.pro
	case classThinking:
		return r.thinking
	default:
		return r.flash
	}
}
