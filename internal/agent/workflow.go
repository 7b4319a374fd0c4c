package agent

import (
	"regexp"
	"strings"
	"time"
)

// Workflow stage names, emitted as status events in order.
const (
	StageIntake         = "intake"
	StageSentiment      = "sentiment"
	StageClassification = "classification"
	StageResolution     = "resolution"
	StageSummary        = "summary"
	StageEscalation     = "escalation"
)

// WorkflowConfig parameterizes the customer-support agency. Escalation
// criteria are configuration, not core behavior.
type WorkflowConfig struct {
	// NegativeSentimentThreshold escalates when the sentiment score falls at
	// or below it. Scores are in [-1, 1]. Default: -0.3
	NegativeSentimentThreshold float64 `yaml:"negative_sentiment_threshold"`

	// RestrictedCategories always escalate.
	RestrictedCategories []string `yaml:"restricted_categories"`

	// MaxProcessingTime escalates when the turn has already run longer than
	// this by the time the workflow assesses it. Default: 20s
	MaxProcessingTime time.Duration `yaml:"max_processing_time"`
}

func (w WorkflowConfig) withDefaults() WorkflowConfig {
	if w.NegativeSentimentThreshold == 0 {
		w.NegativeSentimentThreshold = -0.3
	}
	if w.RestrictedCategories == nil {
		w.RestrictedCategories = []string{"legal", "chargeback", "data-deletion"}
	}
	if w.MaxProcessingTime <= 0 {
		w.MaxProcessingTime = 20 * time.Second
	}
	return w
}

// Assessment is the outcome of the pre-resolution stages.
type Assessment struct {
	Sentiment        float64 `json:"sentiment"`
	Category         string  `json:"category"`
	Escalated        bool    `json:"escalated"`
	EscalationReason string  `json:"escalation_reason,omitempty"`
}

// Assess runs sentiment and classification over the user text and applies
// the escalation criteria. elapsed is how long the turn has been running.
func (w WorkflowConfig) Assess(text string, elapsed time.Duration) Assessment {
	a := Assessment{
		Sentiment: scoreSentiment(text),
		Category:  classifyCategory(text),
	}

	switch {
	case a.Sentiment <= w.NegativeSentimentThreshold:
		a.Escalated = true
		a.EscalationReason = "negative_sentiment"
	case w.restricted(a.Category):
		a.Escalated = true
		a.EscalationReason = "restricted_category"
	case elapsed > w.MaxProcessingTime:
		a.Escalated = true
		a.EscalationReason = "processing_time"
	}
	return a
}

func (w WorkflowConfig) restricted(category string) bool {
	for _, c := range w.RestrictedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// ResolutionInstructions returns the extra system guidance for the
// resolution stage given the assessment.
func (a Assessment) ResolutionInstructions() string {
	var sb strings.Builder
	sb.WriteString("Issue category: ")
	sb.WriteString(a.Category)
	sb.WriteString(".")
	if a.Sentiment <= -0.1 {
		sb.WriteString(" The customer is frustrated; acknowledge that before anything else.")
	}
	if a.Escalated {
		sb.WriteString(" This case is being escalated to a human specialist (")
		sb.WriteString(a.EscalationReason)
		sb.WriteString("). Tell the customer their case has been escalated, give them a clear" +
			" expectation of human follow-up, and do not attempt a final resolution yourself.")
	}
	return sb.String()
}

var (
	negativeWords = regexp.MustCompile(`(?i)\b(angry|furious|terrible|awful|worst|broken|useless|scam|unacceptable|ridiculous|disappointed|frustrat\w*|refund|never works|hate)\b`)
	positiveWords = regexp.MustCompile(`(?i)\b(thanks|thank you|great|love|perfect|awesome|appreciate|helpful|works well|happy)\b`)

	legalWords        = regexp.MustCompile(`(?i)\b(lawyer|attorney|lawsuit|sue|legal action|small claims)\b`)
	chargebackWords   = regexp.MustCompile(`(?i)\b(chargeback|dispute the charge|contact my bank|fraudulent charge)\b`)
	dataDeletionWords = regexp.MustCompile(`(?i)\b(delete my (data|account)|gdpr|right to be forgotten|erase my)\b`)
	billingWords      = regexp.MustCompile(`(?i)\b(bill|billing|charge|charged|invoice|payment|subscription|price|refund)\b`)
	shippingWords     = regexp.MustCompile(`(?i)\b(ship|shipping|delivery|package|tracking|arrived|order status)\b`)
	technicalWords    = regexp.MustCompile(`(?i)\b(error|crash|bug|login|password|not working|broken|fails?|502|timeout)\b`)
	accountWords      = regexp.MustCompile(`(?i)\b(account|profile|email address|username|sign up|cancel my)\b`)
)

// scoreSentiment is a lexicon score in [-1, 1]. It only needs to separate
// clearly upset customers from the rest; nuance belongs to the model.
func scoreSentiment(text string) float64 {
	neg := len(negativeWords.FindAllString(text, -1))
	pos := len(positiveWords.FindAllString(text, -1))
	if neg+pos == 0 {
		return 0
	}
	score := float64(pos-neg) / float64(pos+neg+1)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

// classifyCategory picks the issue category. Restricted categories win over
// ordinary ones so escalation checks see them.
func classifyCategory(text string) string {
	switch {
	case legalWords.MatchString(text):
		return "legal"
	case chargebackWords.MatchString(text):
		return "chargeback"
	case dataDeletionWords.MatchString(text):
		return "data-deletion"
	case billingWords.MatchString(text):
		return "billing"
	case shippingWords.MatchString(text):
		return "shipping"
	case technicalWords.MatchString(text):
		return "technical"
	case accountWords.MatchString(text):
		return "account"
	}
	return "general"
}

// Summarize produces the one-line summary recorded by the summary stage.
func Summarize(content string) string {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	if idx := strings.IndexAny(content, ".!?"); idx > 0 && idx < 160 {
		return content[:idx+1]
	}
	if len(content) > 160 {
		return content[:157] + "..."
	}
	return content
}
