package workflow

import "github.com/deepresearch-labs/orchestrator/internal/agents"

// EventType tags an event variant for dispatch.
type EventType string

const (
	EventStart      EventType = "start"
	EventGenerate   EventType = "generate"
	EventFeedback   EventType = "feedback"
	EventQuestion   EventType = "question"
	EventAnswer     EventType = "answer"
	EventSynthesize EventType = "synthesize"
	EventReview     EventType = "review"
	EventProgress   EventType = "progress"
	EventStop       EventType = "stop"
)

// Event is the only channel of communication between steps. Variants are
// immutable value types; routing is by Type tag, resolved at registration.
type Event interface {
	Type() EventType
}

// StartEvent seeds a run with its topic and agent bindings.
type StartEvent struct {
	Topic  string
	Agents agents.Pool
}

// GenerateEvent requests a fresh set of research questions for a topic.
type GenerateEvent struct {
	Topic string
}

// FeedbackEvent re-enters question generation carrying reviewer critique.
type FeedbackEvent struct {
	Topic    string
	Critique string
}

// QuestionEvent is one fan-out branch: a single question to answer.
type QuestionEvent struct {
	Text string
}

// AnswerEvent is the result of one fan-out branch.
type AnswerEvent struct {
	Question string
	Text     string
}

// SynthesizeEvent signals the report step to proceed without waiting on the
// answer collector. Emitted only for the zero-question fan-out.
type SynthesizeEvent struct{}

// ReviewEvent carries a synthesized report to the review step.
type ReviewEvent struct {
	Report string
}

// ProgressEvent is forwarded to the run's progress sink as a side effect of
// emission, independent of routing.
type ProgressEvent struct {
	Message string
}

// StopEvent terminates the run; Result is the final report.
type StopEvent struct {
	Result string
}

func (StartEvent) Type() EventType      { return EventStart }
func (GenerateEvent) Type() EventType   { return EventGenerate }
func (FeedbackEvent) Type() EventType   { return EventFeedback }
func (QuestionEvent) Type() EventType   { return EventQuestion }
func (AnswerEvent) Type() EventType     { return EventAnswer }
func (SynthesizeEvent) Type() EventType { return EventSynthesize }
func (ReviewEvent) Type() EventType     { return EventReview }
func (ProgressEvent) Type() EventType   { return EventProgress }
func (StopEvent) Type() EventType       { return EventStop }
