// Package generator produces advisor reply drafts from student questions
// through the Gemini API.
package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/circuitbreaker"
)

// StudentContext carries per-student fields woven into the prompt.
type StudentContext struct {
	StudentName      string
	TargetUniversity string
	Track            string
}

// Generator produces a reply draft for a student question.
type Generator interface {
	Generate(ctx context.Context, question string, student StudentContext) (string, error)
	Name() string
}

// GeminiGenerator calls a single Gemini model behind a circuit breaker.
type GeminiGenerator struct {
	client          *genai.Client
	name            string
	model           string
	systemPrompt    string
	timeout         time.Duration
	minAnswerLength int
	breaker         *circuitbreaker.CircuitBreaker
}

func NewGemini(ctx context.Context, name string, cfg models.GeneratorConfig, breaker *circuitbreaker.CircuitBreaker) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client for %s: %w", name, err)
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	minLen := cfg.MinAnswerLength
	if minLen <= 0 {
		minLen = 10
	}

	return &GeminiGenerator{
		client:          client,
		name:            name,
		model:           model,
		systemPrompt:    cfg.SystemPrompt,
		timeout:         timeout,
		minAnswerLength: minLen,
		breaker:         breaker,
	}, nil
}

func (g *GeminiGenerator) Name() string { return g.name }

// Generate produces a reply draft. Answers shorter than the configured
// minimum are treated as upstream failures so callers never cache them.
func (g *GeminiGenerator) Generate(ctx context.Context, question string, student StudentContext) (string, error) {
	if g.breaker != nil && !g.breaker.CanExecute() {
		return "", models.NewCircuitBreakerError(g.name)
	}

	answer, err := g.generate(ctx, question, student)
	if err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure()
		}
		return "", err
	}

	if g.breaker != nil {
		g.breaker.RecordSuccess()
	}
	return answer, nil
}

func (g *GeminiGenerator) generate(ctx context.Context, question string, student StudentContext) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{}
	if g.systemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: g.systemPrompt}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(question, student)), config)
	if err != nil {
		fiberlog.Errorf("Generator: %s call failed: %v", g.name, err)
		return "", models.NewUpstreamError(g.name, "generation request failed", err)
	}

	answer := strings.TrimSpace(resp.Text())
	if len([]rune(answer)) < g.minAnswerLength {
		fiberlog.Warnf("Generator: %s returned answer below minimum length (%d chars)", g.name, len([]rune(answer)))
		return "", models.NewUpstreamError(g.name, "answer below minimum usable length", nil)
	}

	return answer, nil
}

func buildPrompt(question string, student StudentContext) string {
	var b strings.Builder
	if student.StudentName != "" {
		fmt.Fprintf(&b, "학생 이름: %s\n", student.StudentName)
	}
	if student.TargetUniversity != "" {
		fmt.Fprintf(&b, "목표 대학: %s\n", student.TargetUniversity)
	}
	if student.Track != "" {
		fmt.Fprintf(&b, "지원 계열: %s\n", student.Track)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "학생 질문:\n%s", question)
	return b.String()
}
