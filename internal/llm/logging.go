package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type purposeKey struct{}

// WithPurpose labels the calls made with ctx, e.g. "guidance".
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey{}, purpose)
}

// PurposeFrom returns the label set by WithPurpose, or "unknown".
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// RequestEvent is the audit record of one call.
type RequestEvent struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// EventRecorder persists request events.
type EventRecorder interface {
	AppendLLMRequest(ctx context.Context, data RequestEvent) error
}

type logged struct {
	inner    Provider
	provider string
	recorder EventRecorder
	log      zerolog.Logger
}

// WithLogging logs every call and, when recorder is non-nil, records it.
// A recorder failure is logged and does not fail the call.
func WithLogging(p Provider, provider string, recorder EventRecorder, log zerolog.Logger) Provider {
	return &logged{inner: p, provider: provider, recorder: recorder, log: log}
}

func (l *logged) ModelID() string { return l.inner.ModelID() }

func (l *logged) Generate(ctx context.Context, p Prompt) (*Completion, error) {
	start := time.Now()
	c, err := l.inner.Generate(ctx, p)

	ev := RequestEvent{
		Provider:    l.provider,
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: transcript(p),
	}
	if c != nil {
		ev.Model = c.Model
		ev.InputTokens = c.Usage.InputTokens
		ev.OutputTokens = c.Usage.OutputTokens
		ev.ResponseBody = string(c.Content)
	}

	e := l.log.Debug()
	if err != nil {
		ev.ErrorMessage = err.Error()
		e = l.log.Warn().Err(err)
		if kind, ok := KindOf(err); ok {
			e = e.Stringer("kind", kind)
		}
	}
	e.Str("model", ev.Model).
		Str("purpose", ev.Purpose).
		Int("input_tokens", ev.InputTokens).
		Int("output_tokens", ev.OutputTokens).
		Int64("latency_ms", ev.LatencyMs).
		Msg("llm request")

	if l.recorder != nil {
		if rerr := l.recorder.AppendLLMRequest(ctx, ev); rerr != nil {
			l.log.Warn().Err(rerr).Msg("failed to record LLM request event")
		}
	}
	return c, err
}

// transcript renders a prompt for the event log.
func transcript(p Prompt) string {
	var b strings.Builder
	if p.System != "" {
		b.WriteString("[system]\n" + p.System + "\n\n")
	}
	b.WriteString("[user]\n" + p.User + "\n")
	if p.Schema != nil {
		b.WriteString("\n[schema: " + p.Schema.Name + "]\n")
	}
	return b.String()
}
