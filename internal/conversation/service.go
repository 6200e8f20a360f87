package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-scheduling-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

var conversationTracer = otel.Tracer("clinic.internal.conversation")

// StartRequest opens a session. A client-supplied ID lets transports with
// their own session notion (SMS numbers, web cookies) reuse it.
type StartRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// MessageRequest is one inbound user turn.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Response is what the transport hands back to the user.
type Response struct {
	SessionID     string   `json:"session_id"`
	Phase         Phase    `json:"phase"`
	Reply         string   `json:"reply"`
	MissingFields []string `json:"missing_fields,omitempty"`
	BookingCode   string   `json:"booking_code,omitempty"`
}

// Service is the conversational entrypoint the transports depend on.
type Service interface {
	StartConversation(ctx context.Context, req StartRequest) (*Response, error)
	ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error)
	History(ctx context.Context, sessionID string) ([]Turn, error)
}

// Engine implements Service: classify the turn, advance the phase machine,
// render the reply, persist the session. Turns for one session are processed
// strictly in order via a per-session lock; different sessions proceed in
// parallel.
type Engine struct {
	machine    *Machine
	classifier IntentClassifier
	fallback   IntentClassifier
	renderer   Renderer
	store      SessionStore
	metrics    *metrics.ConversationMetrics
	logger     *logging.Logger
	now        func() time.Time

	locks sync.Map // session id -> *sync.Mutex
}

// EngineOption configures the conversation engine.
type EngineOption func(*Engine)

// WithFallbackClassifier sets the classifier used when the primary one fails.
func WithFallbackClassifier(c IntentClassifier) EngineOption {
	return func(e *Engine) {
		e.fallback = c
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.ConversationMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the conversation service.
func NewEngine(machine *Machine, classifier IntentClassifier, renderer Renderer, store SessionStore, logger *logging.Logger, opts ...EngineOption) *Engine {
	if machine == nil {
		panic("conversation: machine required")
	}
	if classifier == nil {
		panic("conversation: classifier required")
	}
	if renderer == nil {
		panic("conversation: renderer required")
	}
	if store == nil {
		panic("conversation: session store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		machine:    machine,
		classifier: classifier,
		renderer:   renderer,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ Service = (*Engine)(nil)

// StartConversation creates (or re-greets) a session and returns the opening
// message.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (*Response, error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.start")
	defer span.End()

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("clinic.session_id", id))

	unlock := e.lockSession(id)
	defer unlock()

	now := e.now().UTC()
	session, err := e.store.Load(ctx, id)
	if err == ErrSessionNotFound {
		session = NewSession(id, now)
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reply, err := e.renderer.Render(ctx, &Result{Phase: session.Phase, Draft: session.Draft, Prompt: PromptGreeting})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	session.AppendTurn(RoleAssistant, reply, now)
	if err := e.store.Save(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.logger.Info("conversation started", "session_id", id)
	return &Response{SessionID: id, Phase: session.Phase, Reply: reply}, nil
}

// ProcessMessage runs one turn end to end. An unknown session ID starts a
// fresh session on the spot, since that is exactly what a first turn from a
// new user looks like.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (*Response, error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.process_message")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.session_id", req.SessionID))

	if req.SessionID == "" {
		return nil, fmt.Errorf("conversation: session id required")
	}

	unlock := e.lockSession(req.SessionID)
	defer unlock()

	started := e.now()
	now := started.UTC()

	session, err := e.store.Load(ctx, req.SessionID)
	if err == ErrSessionNotFound {
		session = NewSession(req.SessionID, now)
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	intent := e.classify(ctx, req.Message, session)
	span.SetAttributes(
		attribute.String("clinic.phase", string(session.Phase)),
		attribute.String("clinic.intent", string(intent.Kind)),
	)

	result, err := e.machine.Advance(ctx, session, intent)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	reply, err := e.renderer.Render(ctx, result)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	session.AppendTurn(RoleUser, req.Message, now)
	session.AppendTurn(RoleAssistant, reply, now)
	if err := e.store.Save(ctx, session); err != nil {
		span.RecordError(err)
		return nil, err
	}

	e.observe(result, intent, started)

	return &Response{
		SessionID:     session.ID,
		Phase:         session.Phase,
		Reply:         reply,
		MissingFields: result.MissingFields,
		BookingCode:   session.BookingCode,
	}, nil
}

// History returns the session transcript.
func (e *Engine) History(ctx context.Context, sessionID string) ([]Turn, error) {
	session, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.Turns, nil
}

// classify runs the primary classifier with a rule-based safety net: a model
// outage degrades to rules, and a rules failure degrades to "unclear" so the
// session keeps moving.
func (e *Engine) classify(ctx context.Context, message string, session *Session) Intent {
	intent, err := e.classifier.Classify(ctx, message, session.Phase, session.Draft)
	if err == nil {
		return intent
	}
	e.logger.Warn("intent classifier failed", "session_id", session.ID, "error", err)
	if e.fallback != nil {
		if intent, ferr := e.fallback.Classify(ctx, message, session.Phase, session.Draft); ferr == nil {
			return intent
		}
	}
	return Intent{Kind: IntentUnclear}
}

func (e *Engine) observe(result *Result, intent Intent, started time.Time) {
	e.metrics.ObserveTurn(string(result.Phase), string(intent.Kind))
	e.metrics.ObserveTurnLatency(string(result.Phase), e.now().Sub(started).Seconds())
	if intent.Kind == IntentDigression {
		e.metrics.ObserveDigression()
	}
	switch result.Prompt {
	case PromptBooked:
		e.metrics.ObserveBooking("confirmed")
	case PromptSlotTaken:
		e.metrics.ObserveBooking("conflict")
	case PromptOfferSlots:
		e.metrics.ObserveSlotQuery("found")
	case PromptHorizonExhausted:
		e.metrics.ObserveSlotQuery("exhausted")
	}
}

func (e *Engine) lockSession(id string) func() {
	value, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
