package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/harun/otto/internal/observability"
	"github.com/harun/otto/internal/tracing"
	"github.com/harun/otto/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Interactor runs streamed interaction turns
type Interactor struct {
	factory      ProviderCreator
	logger       zerolog.Logger
	apiKeys      map[string]string
	pricing      map[string]Price
	defaultModel string
	maxTokens    int
	newBackOff   func(ctx context.Context) backoff.BackOff
}

// Config holds interactor configuration
type Config struct {
	// ProviderFactory defaults to the SDK-backed ProviderFactory
	ProviderFactory ProviderCreator
	Logger          zerolog.Logger
	// APIKeys are used when the provider's environment variable is unset
	APIKeys map[string]string
	// Pricing by full model name, used when the provider reports no cost
	Pricing      map[string]Price
	DefaultModel string
	MaxTokens    int
	// NewBackOff defaults to NewRetryBackOff
	NewBackOff func(ctx context.Context) backoff.BackOff
}

// NewInteractor creates a new interactor
func NewInteractor(cfg Config) (*Interactor, error) {
	observability.EnsureRegistered()

	if cfg.DefaultModel != "" {
		if _, _, ok := SplitModel(cfg.DefaultModel); !ok {
			return nil, fmt.Errorf("unsupported default model: %s", cfg.DefaultModel)
		}
	}

	factory := cfg.ProviderFactory
	if factory == nil {
		factory = &ProviderFactory{}
	}
	newBackOff := cfg.NewBackOff
	if newBackOff == nil {
		newBackOff = NewRetryBackOff
	}

	return &Interactor{
		factory:      factory,
		logger:       cfg.Logger,
		apiKeys:      cfg.APIKeys,
		pricing:      cfg.Pricing,
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
		newBackOff:   newBackOff,
	}, nil
}

// Interact runs one turn. The returned session is a copy of req.Session with
// the optional user item and the new agent item appended; req.Session itself
// is left untouched. onChunk may be nil.
func (i *Interactor) Interact(ctx context.Context, req InteractRequest, onChunk func(Chunk)) (*InteractResult, error) {
	if req.Session == nil && len(req.Input) == 0 {
		return nil, errors.New("session or input is required")
	}
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}

	sess := i.prepareSession(req)
	cfg := sess.Config
	ctx = tracing.WithSessionID(ctx, sess.ID)

	ctx, span := tracing.StartSpan(ctx, tracing.TracerLLM, "llm.interact", attribute.String("model", cfg.Model))
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()

	logger := tracing.LoggerFromContext(ctx, i.logger).With().Str("model", cfg.Model).Logger()

	if len(req.Input) > 0 {
		if err := sess.AppendToLast(session.NewUserItem(req.Input...)); err != nil {
			spanErr = err
			return nil, err
		}
	}

	providerName, modelName, ok := SplitModel(cfg.Model)
	if !ok {
		spanErr = &ConfigError{Reason: fmt.Sprintf("Model %s not supported", cfg.Model)}
		return nil, spanErr
	}
	keyName, key := resolveKey(providerName, i.apiKeys)
	if key == "" {
		spanErr = &ConfigError{Reason: fmt.Sprintf("API key %s not set", keyName)}
		return nil, spanErr
	}
	provider, err := i.factory.NewProvider(providerName, key)
	if err != nil {
		spanErr = &ConfigError{Reason: err.Error()}
		return nil, spanErr
	}

	path := sess.ActivePath()
	if len(path) == 0 {
		spanErr = errors.New("session has no items to send")
		return nil, spanErr
	}
	parentID := path[len(path)-1].ID

	request := Request{
		Model:     modelName,
		Messages:  Render(path, cfg.Instruction, preserveThinking(cfg.Model)),
		Tools:     cfg.Tools,
		MaxTokens: i.maxTokens,
	}
	if cfg.ReasoningEffort != session.EffortNone {
		switch providerName {
		case ProviderAnthropic, ProviderGemini:
			request.ThinkingBudget = ThinkingBudget(cfg.ReasoningEffort)
		default:
			request.ReasoningEffort = lowerEffort(cfg.ReasoningEffort)
		}
	}

	item := session.NewAgentItem(cfg.Model)
	item.Meta.StartTime = time.Now().UTC()

	emit := func(t ChunkType, message, content string) Chunk {
		c := Chunk{Type: t, Message: message, Content: content, ItemID: item.ID, SessionID: sess.ID}
		onChunk(c)
		return c
	}

	var chunks []Chunk
	var stamps []time.Time
	onDelta := func(d Delta) {
		stamps = append(stamps, time.Now())
		switch {
		case d.Thinking != "":
			chunks = append(chunks, emit(ChunkThinking, MessageContent, d.Thinking))
		case d.Text != "":
			chunks = append(chunks, emit(ChunkText, MessageContent, d.Text))
		case d.ToolCallName != "":
			chunks = append(chunks, emit(ChunkToolUse, MessageContent, d.ToolCallName))
		}
	}

	emit(ChunkSystem, MessageStart, "")
	started := time.Now()

	summary, err := i.streamWithRetry(ctx, logger, provider, request, onDelta, func() bool { return len(stamps) > 0 })
	elapsed := time.Since(started)
	if err != nil {
		observability.RecordLLMCall(providerName, elapsed, 0, 0, 0, false)
		logger.Error().Err(err).Int("chunks", len(chunks)).Msg("LLM interaction failed")
		emit(ChunkSystem, MessageError, err.Error())
		spanErr = err
		return nil, err
	}

	item.Content = buildContent(summary)
	item.Meta.InputTokens = summary.Usage.PromptTokens
	item.Meta.OutputTokens = summary.Usage.CompletionTokens
	item.Meta.Cost = i.cost(cfg.Model, summary)
	item.Meta.EndReason = endReason(summary.FinishReason)
	if len(stamps) > 0 {
		item.Meta.TimeToFirstChunk = stamps[0].Sub(started).Seconds()
		item.Meta.InterChunkLatency = interChunkLatency(stamps)
	}
	item.Meta.EndTime = time.Now().UTC()

	if err := sess.Append(parentID, item); err != nil {
		spanErr = err
		return nil, err
	}

	var firstChunk time.Duration
	if len(stamps) > 0 {
		firstChunk = stamps[0].Sub(started)
	}
	observability.RecordLLMCall(providerName, elapsed, firstChunk, item.Meta.InputTokens, item.Meta.OutputTokens, true)
	logger.Debug().
		Str("item_id", item.ID).
		Int("output_tokens", item.Meta.OutputTokens).
		Str("end_reason", string(item.Meta.EndReason)).
		Msg("LLM interaction completed")

	emit(ChunkSystem, MessageEnd, "")

	return &InteractResult{Session: sess, Item: item, Chunks: chunks}, nil
}

func (i *Interactor) prepareSession(req InteractRequest) *session.Session {
	var sess *session.Session
	if req.Session == nil {
		sess = session.New(session.Config{})
	} else {
		sess = req.Session.Clone()
	}

	if req.Model != "" {
		sess.Config.Model = req.Model
	}
	if sess.Config.Model == "" {
		sess.Config.Model = i.defaultModel
	}
	if req.System != "" {
		sess.Config.Instruction = req.System
	}
	if req.Tools != nil {
		sess.Config.Tools = req.Tools
	}
	if req.ReasoningEffort != "" {
		sess.Config.ReasoningEffort = session.ParseEffort(string(req.ReasoningEffort))
	}
	if sess.Config.ReasoningEffort == "" {
		sess.Config.ReasoningEffort = session.EffortNone
	}
	return sess
}

// streamWithRetry calls the provider until it succeeds, fails with a
// non-retryable error, or the backoff gives up. Once any delta has been
// delivered a failure is final, so callers never see a turn twice.
func (i *Interactor) streamWithRetry(
	ctx context.Context,
	logger zerolog.Logger,
	provider Provider,
	req Request,
	onDelta func(Delta),
	delivered func() bool,
) (*Summary, error) {
	var summary *Summary
	attempt := 0

	operation := func() error {
		attempt++
		s, err := provider.Stream(ctx, req, onDelta)
		if err == nil {
			summary = s
			return nil
		}
		if delivered() || !IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		observability.RecordLLMRetry(provider.Name())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Rate limited, retrying")
	}

	if err := backoff.RetryNotify(operation, i.newBackOff(ctx), notify); err != nil {
		if IsRateLimited(err) && attempt >= MaxAttempts {
			return nil, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		return nil, err
	}
	return summary, nil
}

func (i *Interactor) cost(model string, s *Summary) float64 {
	if s.Cost != nil {
		return *s.Cost
	}
	price, ok := i.pricing[model]
	if !ok {
		return 0
	}
	return (float64(s.Usage.PromptTokens)*price.Input + float64(s.Usage.CompletionTokens)*price.Output) / 1e6
}

// buildContent orders the agent item as text, thinking, then tool_use
func buildContent(s *Summary) []session.Content {
	content := []session.Content{}
	if s.Text != "" {
		content = append(content, session.NewText(s.Text))
	}
	for _, th := range s.Thinking {
		if th.Text != "" {
			content = append(content, session.NewThinking(th.Text, th.Signature))
		}
	}
	for _, tc := range s.ToolCalls {
		content = append(content, session.NewToolUse(tc.ID, tc.Name, tc.Args))
	}
	return content
}

func endReason(finish string) session.EndReason {
	switch finish {
	case FinishToolCalls, "tool_use":
		return session.EndToolUse
	case FinishStop:
		return session.EndTurn
	default:
		return ""
	}
}

func interChunkLatency(stamps []time.Time) float64 {
	if len(stamps) < 2 {
		return 0
	}
	total := stamps[len(stamps)-1].Sub(stamps[0]).Seconds()
	return total / float64(len(stamps)-1)
}

func lowerEffort(e session.ReasoningEffort) string {
	switch e {
	case session.EffortLow:
		return "low"
	case session.EffortMedium:
		return "medium"
	case session.EffortHigh:
		return "high"
	}
	return ""
}
