package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPAgent calls an external LLM agent service over HTTP. The service owns
// prompting internals, model selection, and tool execution; this client only
// ships a query with a role-specific system prompt and reads text back.
type HTTPAgent struct {
	baseURL      string
	agentID      string
	systemPrompt string
	tools        []string
	client       *http.Client
	logger       *zap.Logger
}

// NewHTTPAgent creates an agent client for one workflow role.
func NewHTTPAgent(baseURL, agentID, systemPrompt string, tools []string, logger *zap.Logger) *HTTPAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPAgent{
		baseURL:      strings.TrimRight(baseURL, "/"),
		agentID:      agentID,
		systemPrompt: systemPrompt,
		tools:        tools,
		client:       &http.Client{Timeout: 180 * time.Second},
		logger:       logger,
	}
}

type agentQueryRequest struct {
	Query          string                 `json:"query"`
	AgentID        string                 `json:"agent_id"`
	Context        map[string]interface{} `json:"context,omitempty"`
	SessionContext map[string]interface{} `json:"session_context,omitempty"`
}

type agentQueryResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Run sends the prompt to the agent service and returns its text response.
func (a *HTTPAgent) Run(ctx context.Context, prompt string, opts ...RunOption) (string, error) {
	var options RunOptions
	for _, opt := range opts {
		opt(&options)
	}

	reqBody := agentQueryRequest{
		Query:   prompt,
		AgentID: a.agentID,
		SessionContext: map[string]interface{}{
			"system_prompt": a.systemPrompt,
		},
	}
	reqCtx := map[string]interface{}{}
	if options.MaxIterations > 0 {
		reqCtx["max_iterations"] = options.MaxIterations
	}
	if len(a.tools) > 0 {
		reqCtx["tools"] = a.tools
	}
	if len(reqCtx) > 0 {
		reqBody.Context = reqCtx
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/agent/query", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", a.agentID)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d from agent service", resp.StatusCode)
	}

	var result agentQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parse agent response: %w", err)
	}
	if !result.Success {
		if result.Error != "" {
			return "", fmt.Errorf("agent service error: %s", result.Error)
		}
		return "", fmt.Errorf("agent service returned success=false")
	}

	return strings.TrimSpace(result.Response), nil
}

// httpSearcher performs a single search call against the agent service's
// search-enabled endpoint. Wrapped by RetryingSearch for the retry policy.
type httpSearcher struct {
	agent *HTTPAgent
}

func (s *httpSearcher) Search(ctx context.Context, query string) (string, error) {
	return s.agent.Run(ctx, "Search for : "+query)
}

// PoolConfig configures the HTTP-backed agent pool.
type PoolConfig struct {
	BaseURL string
}

// System prompts for the four workflow roles.
const (
	questionPrompt = `You are part of a deep research system.
Given a research topic, you should come up with 5 questions that a separate
agent will answer in order to write a comprehensive report on that topic.
To make it easy to answer the questions separately, you should provide the
questions one per line. Don't include markdown or any preamble in your
response, just a list of questions.`

	answerPrompt = `You are part of a deep research system.
Given a specific question, your job is to come up with a deep answer to that
question, which will be combined with other answers on the topic into a
comprehensive report. You can search the web to get information on the topic,
as many times as you need.`

	reportPrompt = `You are part of a deep research system.
Given a set of answers to a set of questions, your job is to combine them all
into a comprehensive report on the topic.`

	reviewPrompt = `You are part of a deep research system.
Your job is to review a report that's been written and suggest questions that
could have been asked to produce a more comprehensive report than the current
version, or to decide that the current report is comprehensive enough.`
)

// NewHTTPPool builds the four role agents against one agent service. The
// answer agent is granted the web_search tool; the others run tool-free.
func NewHTTPPool(cfg PoolConfig, logger *zap.Logger) Pool {
	return Pool{
		Question: NewHTTPAgent(cfg.BaseURL, "question_agent", questionPrompt, nil, logger),
		Answer:   NewHTTPAgent(cfg.BaseURL, "answer_agent", answerPrompt, []string{"web_search"}, logger),
		Report:   NewHTTPAgent(cfg.BaseURL, "report_agent", reportPrompt, nil, logger),
		Review:   NewHTTPAgent(cfg.BaseURL, "review_agent", reviewPrompt, nil, logger),
	}
}

// NewHTTPSearchTool builds the standalone search capability with the bounded
// immediate-retry policy.
func NewHTTPSearchTool(cfg PoolConfig, logger *zap.Logger) SearchTool {
	agent := NewHTTPAgent(cfg.BaseURL, "web_search", "", []string{"web_search"}, logger)
	return NewRetryingSearch(&httpSearcher{agent: agent}, logger)
}
