package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// delegationPhrases are the fixed lead-in phrases that mark an explicit
// delegation request. Longer phrases come first so "ask the" wins over "ask".
var delegationPhrases = []string{
	"delegate this to",
	"delegate to",
	"forward this to",
	"forward to",
	"hand this to",
	"ask the",
	"ask",
	"talk to",
	"consult",
}

// RouterConfig maps classifier labels to routing decisions.
type RouterConfig struct {
	// Labels maps a classifier label to the registry capability to look up.
	// A label missing from the map is tried as a capability verbatim.
	Labels map[string]string
	// LocalLabels are always handled in-process.
	LocalLabels []string
	// MinConfidence below which a classification falls through to local
	// handling.
	MinConfidence float64
}

// Router is the top-level entry point: for each inbound message it decides
// between local handling and delegation to a remote agent, resolving targets
// through the registry and dispatching through the resilience chain.
type Router struct {
	dispatcher *Dispatcher
	classifier domain.Classifier // nil = no topic fallback, everything non-explicit is local
	local      domain.LocalHandler
	cfg        RouterConfig
	logger     *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(dispatcher *Dispatcher, classifier domain.Classifier, local domain.LocalHandler, cfg RouterConfig, logger *slog.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		classifier: classifier,
		local:      local,
		cfg:        cfg,
		logger:     logger,
	}
}

// Handle processes one inbound message end-to-end. Routing failures that the
// user can act on (unknown agent, unavailable agent, rate limit) come back
// as labeled replies, not errors; the error return is reserved for internal
// faults. Safe to call concurrently.
func (r *Router) Handle(ctx context.Context, msg domain.InboundMessage) (domain.OutboundMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "router.handle")
	defer span.End()

	// 1. Explicit delegation check.
	if agent, task, ok := parseDelegation(msg.Content); ok {
		span.SetAttributes(attribute.String("route", "explicit"), attribute.String("agent", agent))
		r.logger.Debug("explicit delegation detected", "agent", agent)
		return r.delegate(ctx, msg, agent, task), nil
	}

	// 2. Topic fallback via the external classifier.
	if r.classifier != nil {
		c, err := r.classifier.Classify(ctx, msg.Content)
		if err != nil {
			r.logger.Warn("classifier failed, handling locally", "error", err)
		} else if agent, ok := r.resolveTopic(c); ok {
			span.SetAttributes(attribute.String("route", "topic"),
				attribute.String("label", c.Label), attribute.String("agent", agent))
			r.logger.Debug("topic routed to agent",
				"label", c.Label, "confidence", c.Confidence, "agent", agent)
			return r.delegate(ctx, msg, agent, msg.Content), nil
		}
	}

	// 3. Local handling.
	span.SetAttributes(attribute.String("route", "local"))
	return r.handleLocally(ctx, msg)
}

// resolveTopic maps a classification onto a registered agent name, or
// reports that the message should stay local.
func (r *Router) resolveTopic(c domain.Classification) (string, bool) {
	if c.Label == "" || c.Confidence < r.cfg.MinConfidence {
		return "", false
	}
	for _, l := range r.cfg.LocalLabels {
		if strings.EqualFold(l, c.Label) {
			return "", false
		}
	}

	capability := c.Label
	if mapped, ok := r.cfg.Labels[c.Label]; ok {
		capability = mapped
	}

	// First capability match wins; registration order keeps it deterministic.
	if matches := r.dispatcher.Registry().FindByCapability(capability); len(matches) > 0 {
		return matches[0].Name, true
	}
	if _, err := r.dispatcher.Registry().FindByName(capability); err == nil {
		return capability, true
	}
	return "", false
}

// delegate dispatches the task and renders routing failures as short
// labeled replies. Retry counts and breaker internals stay in the logs.
func (r *Router) delegate(ctx context.Context, msg domain.InboundMessage, agent, task string) domain.OutboundMessage {
	result, err := r.dispatcher.Dispatch(ctx, agent, task)
	if err == nil {
		return domain.OutboundMessage{
			Content:   result,
			Kind:      domain.ReplyDelegated,
			Agent:     agent,
			SessionID: msg.SessionID,
		}
	}

	switch {
	case errors.Is(err, domain.ErrAgentNotFound):
		return domain.OutboundMessage{
			Content:   fmt.Sprintf("I don't know an agent called %q.%s", agent, r.knownAgentsHint()),
			Kind:      domain.ReplyAgentNotFound,
			Agent:     agent,
			SessionID: msg.SessionID,
		}
	case errors.Is(err, domain.ErrRateLimited):
		var rle *domain.RateLimitError
		reply := fmt.Sprintf("⚠ %s is receiving too many requests. Please wait a moment.", agent)
		if errors.As(err, &rle) {
			reply = fmt.Sprintf("⚠ %s is receiving too many requests. Try again after %s.",
				agent, rle.ResetAt.Format(time.Kitchen))
		}
		return domain.OutboundMessage{
			Content:   reply,
			Kind:      domain.ReplyRateLimited,
			Agent:     agent,
			SessionID: msg.SessionID,
		}
	default:
		// Circuit open, exhausted retries, protocol trouble: all render the
		// same way for the user.
		r.logger.Warn("delegation unavailable",
			"agent", agent, "code", domain.ErrorCodeOf(err), "error", err)
		return domain.OutboundMessage{
			Content:   fmt.Sprintf("⚠ agent %s is unavailable right now. Please try again later.", agent),
			Kind:      domain.ReplyUnavailable,
			Agent:     agent,
			SessionID: msg.SessionID,
		}
	}
}

func (r *Router) handleLocally(ctx context.Context, msg domain.InboundMessage) (domain.OutboundMessage, error) {
	if r.local == nil {
		return domain.OutboundMessage{
			Content:   "I can't help with that yet.",
			Kind:      domain.ReplyLocal,
			SessionID: msg.SessionID,
		}, nil
	}
	result, err := r.local.Handle(ctx, msg.Content)
	if err != nil {
		return domain.OutboundMessage{}, domain.WrapOp("local handler", err)
	}
	return domain.OutboundMessage{
		Content:   result,
		Kind:      domain.ReplyLocal,
		SessionID: msg.SessionID,
	}, nil
}

// knownAgentsHint lists registered agent names as a recovery hint.
func (r *Router) knownAgentsHint() string {
	agents := r.dispatcher.Registry().List()
	if len(agents) == 0 {
		return ""
	}
	names := make([]string, 0, len(agents))
	for _, d := range agents {
		names = append(names, d.Name)
	}
	return " Known agents: " + strings.Join(names, ", ") + "."
}

// parseDelegation scans text for a delegation lead-in phrase followed by an
// agent name token. It returns the normalized name and the remaining task
// text. "ask the billing_agent to refund order 42" parses to
// ("billing_agent", "refund order 42").
func parseDelegation(text string) (agent, task string, ok bool) {
	lower := strings.ToLower(text)

	for _, phrase := range delegationPhrases {
		idx := phraseIndex(lower, phrase)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(text[idx+len(phrase):])

		// Skip article tokens between the phrase and the name, so
		// "talk to the billing_agent" finds billing_agent, not "the".
		for rest != "" {
			token, tail := rest, ""
			if sp := strings.IndexByte(rest, ' '); sp >= 0 {
				token = rest[:sp]
				tail = strings.TrimSpace(rest[sp+1:])
			}
			if !isArticle(token) {
				break
			}
			rest = tail
		}
		if rest == "" {
			continue
		}

		name := rest
		if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			name = rest[:sp]
			task = strings.TrimSpace(rest[sp+1:])
		} else {
			task = ""
		}
		name = domain.NormalizeAgentName(name)
		if name == "" {
			continue
		}

		// Drop a connective between the name and the task.
		for _, connective := range []string{"to ", "about ", "that ", ": "} {
			if strings.HasPrefix(strings.ToLower(task), connective) {
				task = strings.TrimSpace(task[len(connective):])
				break
			}
		}
		return name, task, true
	}
	return "", "", false
}

func isArticle(token string) bool {
	return strings.EqualFold(token, "the") ||
		strings.EqualFold(token, "a") ||
		strings.EqualFold(token, "an")
}

// phraseIndex finds phrase in lower-cased text at a word boundary.
func phraseIndex(lower, phrase string) int {
	from := 0
	for {
		idx := strings.Index(lower[from:], phrase)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(phrase)
		startOK := idx == 0 || lower[idx-1] == ' '
		endOK := end < len(lower) && lower[end] == ' '
		if startOK && endOK {
			return idx
		}
		from = idx + 1
	}
}
