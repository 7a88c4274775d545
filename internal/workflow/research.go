package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deepresearch-labs/orchestrator/internal/agents"
	"github.com/deepresearch-labs/orchestrator/internal/metrics"
)

// acceptVerdict is the exact review verdict that stops the feedback loop.
const acceptVerdict = "ACCEPTABLE"

// Config carries the research workflow knobs.
type Config struct {
	// QuestionTimeout bounds each individual question-answering unit of work,
	// independent of the run-scoped deadline.
	QuestionTimeout time.Duration
	// AnswerMaxIterations bounds the answer agent's internal tool-use loop.
	AnswerMaxIterations int
}

// DefaultConfig mirrors the service defaults: two minutes per question,
// five tool iterations per answer.
func DefaultConfig() Config {
	return Config{
		QuestionTimeout:     120 * time.Second,
		AnswerMaxIterations: 5,
	}
}

// Research wires the five research steps into an engine. One Research value
// serves one run: the setup step binds the agent pool delivered in the
// StartEvent before any downstream step can fire.
type Research struct {
	cfg    Config
	logger *zap.Logger
	pool   agents.Pool
}

// NewResearch creates the workflow definition for a single run.
func NewResearch(cfg Config, logger *zap.Logger) *Research {
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = DefaultConfig().QuestionTimeout
	}
	if cfg.AnswerMaxIterations <= 0 {
		cfg.AnswerMaxIterations = DefaultConfig().AnswerMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Research{cfg: cfg, logger: logger}
}

// Engine returns a step engine with all research steps registered.
func (w *Research) Engine() *Engine {
	e := NewEngine(w.logger)
	e.Register(
		&setupStep{w},
		&generateStep{w},
		&answerStep{w},
		&reportStep{w},
		&reviewStep{w},
	)
	return e
}

// setupStep binds the agent pool and kicks off question generation.
type setupStep struct{ w *Research }

func (s *setupStep) Name() string         { return "setup" }
func (s *setupStep) Accepts() []EventType { return []EventType{EventStart} }

func (s *setupStep) Handle(ctx context.Context, run *Run, ev Event) ([]Event, error) {
	start, ok := ev.(StartEvent)
	if !ok {
		return nil, fmt.Errorf("setup: unexpected event %T", ev)
	}
	s.w.pool = start.Agents
	return []Event{
		ProgressEvent{Message: "Starting research"},
		GenerateEvent{Topic: start.Topic},
	}, nil
}

// generateStep produces the question fan-out. It accepts both the initial
// GenerateEvent and FeedbackEvent re-entries from the review step.
type generateStep struct{ w *Research }

func (s *generateStep) Name() string         { return "generate_questions" }
func (s *generateStep) Accepts() []EventType { return []EventType{EventGenerate, EventFeedback} }

func (s *generateStep) Handle(ctx context.Context, run *Run, ev Event) ([]Event, error) {
	var topic, critique string
	switch e := ev.(type) {
	case GenerateEvent:
		topic = e.Topic
	case FeedbackEvent:
		topic = e.Topic
		critique = e.Critique
	default:
		return nil, fmt.Errorf("generate_questions: unexpected event %T", ev)
	}

	run.Store.Set(KeyResearchTopic, topic)
	run.Progress(fmt.Sprintf("Research topic is %s", topic))

	var out []Event
	prompt := fmt.Sprintf("Generate some questions on the topic <topic>%s</topic>.", topic)
	if critique != "" {
		run.Progress(fmt.Sprintf("Got feedback: %s", critique))
		prompt += fmt.Sprintf(` You have previously researched this topic and
got the following feedback, consisting of additional questions you might want
to ask: <feedback>%s</feedback>. Keep this in mind when formulating your
questions.`, critique)
	}

	result, err := s.w.pool.Question.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("question agent: %w", err)
	}

	var questions []string
	for _, line := range strings.Split(result, "\n") {
		if q := strings.TrimSpace(line); q != "" {
			questions = append(questions, q)
		}
	}

	// Record the fan-out width before emitting so the fan-in knows when it
	// is complete.
	run.Store.Set(KeyTotalQuestions, len(questions))
	metrics.QuestionsGenerated.Observe(float64(len(questions)))

	if len(questions) == 0 {
		// Zero-question fan-out: short-circuit straight to report synthesis.
		return append(out, SynthesizeEvent{}), nil
	}

	for _, q := range questions {
		out = append(out, QuestionEvent{Text: q})
	}
	return out, nil
}

// answerStep answers one question under its own deadline. Timeouts and agent
// errors are contained: they become placeholder answers so the fan-in always
// receives exactly one answer per question.
type answerStep struct{ w *Research }

func (s *answerStep) Name() string         { return "answer_question" }
func (s *answerStep) Accepts() []EventType { return []EventType{EventQuestion} }

func (s *answerStep) Handle(ctx context.Context, run *Run, ev Event) ([]Event, error) {
	q, ok := ev.(QuestionEvent)
	if !ok {
		return nil, fmt.Errorf("answer_question: unexpected event %T", ev)
	}

	answerCtx, cancel := context.WithTimeout(ctx, s.w.cfg.QuestionTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Research the answer to this question:
<question>%s</question>. You can use web search to help you find information
on the topic, as many times as you need. Return just the answer without
preamble or markdown.`, q.Text)

	type answer struct {
		text string
		err  error
	}
	done := make(chan answer, 1)
	start := time.Now()
	go func() {
		text, err := s.w.pool.Answer.Run(answerCtx, prompt,
			agents.WithMaxIterations(s.w.cfg.AnswerMaxIterations))
		done <- answer{text: text, err: err}
	}()

	select {
	case <-answerCtx.Done():
		if ctx.Err() != nil {
			// Run-scoped cancellation or deadline: unwind, don't fabricate data.
			return nil, ctx.Err()
		}
		metrics.AnswerTimeouts.Inc()
		return []Event{
			ProgressEvent{Message: fmt.Sprintf("Timeout for question: %s...", truncate(q.Text, 50))},
			AnswerEvent{
				Question: q.Text,
				Text: fmt.Sprintf("Timeout occurred while researching this question. "+
					"Unable to complete research within %s.", s.w.cfg.QuestionTimeout),
			},
		}, nil
	case a := <-done:
		metrics.AnswerDuration.Observe(time.Since(start).Seconds())
		if a.err != nil {
			metrics.AnswerErrors.Inc()
			return []Event{
				ProgressEvent{Message: fmt.Sprintf("Error for question: %s... - %v", truncate(q.Text, 50), a.err)},
				AnswerEvent{
					Question: q.Text,
					Text:     fmt.Sprintf("Error occurred while researching this question: %v", a.err),
				},
			}, nil
		}
		return []Event{
			ProgressEvent{Message: fmt.Sprintf("Completed question: %s... Answer: %s...",
				truncate(q.Text, 50), truncate(a.text, 100))},
			AnswerEvent{Question: q.Text, Text: a.text},
		}, nil
	}
}

// reportStep is the fan-in barrier: it holds until all expected answers have
// arrived, then synthesizes the report exactly once per cycle.
type reportStep struct{ w *Research }

func (s *reportStep) Name() string         { return "write_report" }
func (s *reportStep) Accepts() []EventType { return []EventType{EventAnswer, EventSynthesize} }

func (s *reportStep) Handle(ctx context.Context, run *Run, ev Event) ([]Event, error) {
	var batch []Event
	switch ev.(type) {
	case AnswerEvent:
		want := run.Store.GetInt(KeyTotalQuestions)
		collected, state := run.Answers.Collect(ev, want)
		switch state {
		case CollectPending:
			return []Event{ProgressEvent{Message: "Collecting answers..."}}, nil
		case CollectInvalid:
			return nil, fmt.Errorf("write_report: invalid expected answer count %d", want)
		}
		batch = collected
	case SynthesizeEvent:
		// Zero-question short-circuit: synthesize from an empty answer set.
	default:
		return nil, fmt.Errorf("write_report: unexpected event %T", ev)
	}

	var answers strings.Builder
	for _, item := range batch {
		a, ok := item.(AnswerEvent)
		if !ok {
			continue
		}
		fmt.Fprintf(&answers, "Question: %s\nAnswer: %s\n\n", a.Question, a.Text)
	}

	run.Progress("Generating report...")

	prompt := fmt.Sprintf(`You are part of a deep research system.
You have been given a complex topic on which to write a report:
<topic>%s</topic>.

Other agents have already come up with a list of questions about the topic
and answers to those questions. Your job is to write a clear, thorough report
that combines all the information from those answers.

Here are the questions and answers:
<questions_and_answers>%s</questions_and_answers>`,
		run.Store.GetString(KeyResearchTopic), answers.String())

	result, err := s.w.pool.Report.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("report agent: %w", err)
	}

	return []Event{ReviewEvent{Report: result}}, nil
}

// reviewStep critiques the report and decides accept, loop, or force-accept
// once the cycle cap is reached.
type reviewStep struct{ w *Research }

func (s *reviewStep) Name() string         { return "review" }
func (s *reviewStep) Accepts() []EventType { return []EventType{EventReview} }

func (s *reviewStep) Handle(ctx context.Context, run *Run, ev Event) ([]Event, error) {
	review, ok := ev.(ReviewEvent)
	if !ok {
		return nil, fmt.Errorf("review: unexpected event %T", ev)
	}

	prompt := fmt.Sprintf(`You are part of a deep research system.
You have just written a report about the topic %s.
Here is the report: <report>%s</report>
Decide whether this report is sufficiently comprehensive.
If it is, respond with just the string "%s" and nothing else.
If it needs more research, suggest some additional questions that could have
been asked.`, run.Store.GetString(KeyResearchTopic), review.Report, acceptVerdict)

	verdict, err := s.w.pool.Review.Run(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("review agent: %w", err)
	}

	cycles := run.IncrementCycles()

	// Accept on verdict, or force-accept once the cycle cap is exhausted.
	if verdict == acceptVerdict || cycles >= run.MaxCycles {
		return []Event{StopEvent{Result: review.Report}}, nil
	}

	return []Event{
		ProgressEvent{Message: "Sending feedback"},
		FeedbackEvent{
			Topic:    run.Store.GetString(KeyResearchTopic),
			Critique: verdict,
		},
	}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
