package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduling-ai/internal/llm"
	"github.com/wolfman30/clinic-scheduling-ai/pkg/logging"
)

// FallbackAnswer is returned when no source can answer the question. The
// assistant never invents clinic policy.
const FallbackAnswer = "I'm not sure about that one. Please call the front desk and our staff will be happy to help. Now, where were we?"

// DefaultLookupTimeout caps how long a digression may wait on the knowledge
// layer before the conversation falls back and moves on.
const DefaultLookupTimeout = 5 * time.Second

// Answer is a reply to an off-flow patient question. Matched is false when
// the text is the generic fallback.
type Answer struct {
	Text    string
	Matched bool
}

// Retriever answers free-form clinic questions.
type Retriever interface {
	Lookup(ctx context.Context, question string) (Answer, error)
}

// Service layers retrieval sources: the static FAQ first for instant answers,
// then the language model when one is configured. Any failure degrades to
// FallbackAnswer instead of an error so a digression can always resume.
type Service struct {
	faq     *FAQStore
	client  llm.Client
	timeout time.Duration
	logger  *logging.Logger
}

// ServiceOption configures the knowledge service.
type ServiceOption func(*Service)

// WithLLM enables model-backed answers for questions the FAQ misses.
func WithLLM(client llm.Client) ServiceOption {
	return func(s *Service) {
		s.client = client
	}
}

// WithLookupTimeout overrides the per-question deadline.
func WithLookupTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService builds the layered retriever.
func NewService(faq *FAQStore, logger *logging.Logger, opts ...ServiceOption) *Service {
	if faq == nil {
		faq = NewFAQStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{faq: faq, timeout: DefaultLookupTimeout, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const llmSystemPrompt = `You are the front-desk assistant for a medical clinic.
Answer the patient's question in two or three sentences using ONLY the clinic
facts below. If the facts do not cover the question, reply with exactly:
UNKNOWN

Clinic facts:
%s`

// Lookup tries the FAQ, then the model. It never returns an error together
// with an empty answer: on failure the fallback text comes back instead.
func (s *Service) Lookup(ctx context.Context, question string) (Answer, error) {
	if text, ok := s.faq.Match(question); ok {
		return Answer{Text: text, Matched: true}, nil
	}
	if s.client == nil {
		return Answer{Text: FallbackAnswer}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Complete(ctx, llm.Request{
		System:      []string{strings.Replace(llmSystemPrompt, "%s", s.faq.FactSheet(), 1)},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: question}},
		MaxTokens:   200,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("knowledge lookup failed, using fallback", "error", err)
		return Answer{Text: FallbackAnswer}, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" || strings.EqualFold(text, "UNKNOWN") {
		return Answer{Text: FallbackAnswer}, nil
	}
	return Answer{Text: text, Matched: true}, nil
}
