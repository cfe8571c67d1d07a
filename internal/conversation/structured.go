package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adaptiveagents/collabsim/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var structuredTracer = otel.Tracer("collabsim.internal.conversation.structured")

const (
	// Safety margin subtracted from the context window alongside the
	// completion budget before truncating history.
	truncationSafetyMargin = 500

	// Rough chars-per-token ratio for budget estimation. The safety
	// margin absorbs the skew against a real tokenizer.
	charsPerToken = 4

	defaultMaxContextTokens = 32768
	defaultMaxNewTokens     = 2048
)

// finalChannelMarker separates the reasoning trace from the final answer in
// gpt-oss style harmony output.
const finalChannelMarker = "<|channel|>final<|message|>"

var harmonyTagRE = regexp.MustCompile(`<\|[^|]+\|>`)

// ErrEmptyCompletion is returned when a completion produced no usable text,
// for example when a reasoning-trace output carries no final channel.
// Callers treat it as retryable.
var ErrEmptyCompletion = errors.New("conversation: completion produced no usable text")

// StructuredClient wraps an LLMClient with the plumbing both simulators
// need: token-budget truncation of long histories, extraction of the final
// channel from reasoning-trace models, and bounded retry against transient
// service failures.
type StructuredClient struct {
	client           LLMClient
	model            string
	maxContextTokens int
	maxNewTokens     int
	temperature      float32
	retries          int
	retryDelay       time.Duration
	logger           *logging.Logger
}

type StructuredOption func(*StructuredClient)

func WithContextWindow(maxContextTokens, maxNewTokens int) StructuredOption {
	return func(c *StructuredClient) {
		if maxContextTokens > 0 {
			c.maxContextTokens = maxContextTokens
		}
		if maxNewTokens > 0 {
			c.maxNewTokens = maxNewTokens
		}
	}
}

func WithTemperature(t float32) StructuredOption {
	return func(c *StructuredClient) { c.temperature = t }
}

// WithTransientRetries bounds the internal retry loop against service
// failures. This is separate from the structured-output retries the
// simulators run on top.
func WithTransientRetries(n int) StructuredOption {
	return func(c *StructuredClient) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func WithRetryDelay(d time.Duration) StructuredOption {
	return func(c *StructuredClient) { c.retryDelay = d }
}

func WithStructuredLogger(logger *logging.Logger) StructuredOption {
	return func(c *StructuredClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewStructuredClient(client LLMClient, model string, opts ...StructuredOption) *StructuredClient {
	if client == nil {
		panic("conversation: structured client requires an LLM client")
	}
	c := &StructuredClient{
		client:           client,
		model:            model,
		maxContextTokens: defaultMaxContextTokens,
		maxNewTokens:     defaultMaxNewTokens,
		temperature:      1.0,
		retries:          2,
		retryDelay:       time.Second,
		logger:           logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model identifier this client completes against.
func (c *StructuredClient) Model() string { return c.model }

// Complete truncates messages to the context budget, dispatches the
// completion with bounded transient retry, and post-processes
// reasoning-trace output. An empty effective response yields
// ErrEmptyCompletion so the caller's structured-output loop can retry.
func (c *StructuredClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	ctx, span := structuredTracer.Start(ctx, "conversation.structured_complete")
	defer span.End()

	trimmed := truncateToBudget(messages, c.maxContextTokens, c.maxNewTokens)
	system, rest := splitSystemMessages(trimmed)

	req := LLMRequest{
		Model:       c.model,
		System:      system,
		Messages:    rest,
		MaxTokens:   int32(c.maxNewTokens),
		Temperature: c.temperature,
	}

	var resp LLMResponse
	var err error
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err = c.client.Complete(ctx, req)
		latency := time.Since(start)
		status := "ok"
		if err != nil {
			status = "error"
		}
		llmLatency.WithLabelValues(c.model, status).Observe(latency.Seconds())
		if err == nil {
			recordTokenUsage(c.model, resp.Usage)
			break
		}
		span.RecordError(err)
		if attempt >= c.retries || ctx.Err() != nil {
			c.logger.Warn("llm completion failed", "model", c.model, "attempts", attempt+1, "error", err)
			return "", fmt.Errorf("conversation: llm completion failed: %w", err)
		}
		c.logger.Warn("llm completion failed, retrying", "model", c.model, "attempt", attempt+1, "error", err)
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return "", fmt.Errorf("conversation: llm completion canceled: %w", ctx.Err())
		}
	}

	text := strings.TrimSpace(resp.Text)
	if isReasoningTraceModel(c.model) {
		text = extractFinalChannel(text)
	}
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("collabsim.llm.model", c.model),
			attribute.Int("collabsim.llm.input_tokens", int(resp.Usage.InputTokens)),
			attribute.Int("collabsim.llm.output_tokens", int(resp.Usage.OutputTokens)),
			attribute.String("collabsim.llm.stop_reason", resp.StopReason),
			attribute.Bool("collabsim.llm.empty", text == ""),
		)
	}
	if text == "" {
		span.RecordError(ErrEmptyCompletion)
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// CompleteBatch issues one completion per message list concurrently and
// returns a same-length slice. A failed slot carries an empty string; the
// error reports only total failure of every slot.
func (c *StructuredClient) CompleteBatch(ctx context.Context, batches [][]ChatMessage) ([]string, error) {
	results := make([]string, len(batches))
	errs := make([]error, len(batches))

	done := make(chan int, len(batches))
	for i := range batches {
		go func(i int) {
			results[i], errs[i] = c.Complete(ctx, batches[i])
			done <- i
		}(i)
	}
	for range batches {
		<-done
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(batches) && len(batches) > 0 {
		return results, fmt.Errorf("conversation: all %d batch completions failed: %w", failed, errs[0])
	}
	return results, nil
}

func recordTokenUsage(model string, usage TokenUsage) {
	if usage.InputTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(usage.OutputTokens))
	}
	if usage.TotalTokens > 0 {
		llmTokensTotal.WithLabelValues(model, "total").Add(float64(usage.TotalTokens))
	}
}

// truncateToBudget drops the oldest non-system message (index 1) until the
// estimated token count fits maxContext - maxNew - safety margin, or only
// one message remains. The first message is never dropped.
func truncateToBudget(messages []ChatMessage, maxContextTokens, maxNewTokens int) []ChatMessage {
	budget := maxContextTokens - maxNewTokens - truncationSafetyMargin
	out := make([]ChatMessage, len(messages))
	copy(out, messages)
	for len(out) > 1 && estimateTokens(out) > budget {
		out = append(out[:1], out[2:]...)
	}
	return out
}

func estimateTokens(messages []ChatMessage) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Role) + len(m.Content)
	}
	return chars / charsPerToken
}

func splitSystemMessages(messages []ChatMessage) (system []string, rest []ChatMessage) {
	for _, m := range messages {
		if m.Role == ChatRoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func isReasoningTraceModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gpt-oss")
}

// extractFinalChannel pulls the final-channel content out of harmony style
// output. Returns "" when no final channel is present; the caller retries.
func extractFinalChannel(raw string) string {
	idx := strings.LastIndex(raw, finalChannelMarker)
	if idx < 0 {
		return ""
	}
	final := raw[idx+len(finalChannelMarker):]
	final = harmonyTagRE.ReplaceAllString(final, "")
	return strings.TrimSpace(final)
}
