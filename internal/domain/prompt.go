package domain

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"github.com/davidbz/kiln/internal/circuitbreaker"
	"github.com/davidbz/kiln/internal/observability"
)

// Breaker keys for the prompt pipeline dependencies.
const (
	AIServiceBreaker = "aiService"
	DatabaseBreaker  = "database"
)

// mashupPoolSize is how many recent prompts the mashup stage picks from.
const mashupPoolSize = 20

var variablePattern = regexp.MustCompile(`\$\{(\w+)\}`)

// PromptPipeline applies the optional prompt transforms in order.
// A failing stage is logged and skipped; the prompt from before that stage is kept.
type PromptPipeline struct {
	enhancer  PromptEnhancer
	source    PromptSource
	breakers  *circuitbreaker.Registry
	variables map[string][]string

	mu   sync.Mutex
	intN func(n int) int
}

// PromptOption configures a PromptPipeline.
type PromptOption func(*PromptPipeline)

// WithRandom replaces the random source used by substitution, mixup and mashup.
func WithRandom(intN func(n int) int) PromptOption {
	return func(p *PromptPipeline) {
		p.intN = intN
	}
}

// NewPromptPipeline creates a prompt pipeline. enhancer and source may be nil,
// which disables the enhance and mashup stages.
func NewPromptPipeline(
	enhancer PromptEnhancer,
	source PromptSource,
	breakers *circuitbreaker.Registry,
	variables map[string][]string,
	opts ...PromptOption,
) *PromptPipeline {
	p := &PromptPipeline{
		enhancer:  enhancer,
		source:    source,
		breakers:  breakers,
		variables: variables,
		intN:      rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type promptStage struct {
	name    string
	enabled bool
	apply   func(ctx context.Context, prompt string) (string, error)
}

// run applies the stage, turning a panic into an error.
func (s promptStage) run(ctx context.Context, prompt string) (next string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prompt stage %s panicked: %v", s.name, r)
		}
	}()
	return s.apply(ctx, prompt)
}

// Process runs every enabled stage and returns the final prompt. It never fails.
func (p *PromptPipeline) Process(ctx context.Context, prompt string, opts Options) string {
	stages := []promptStage{
		{name: "variables", enabled: len(p.variables) > 0, apply: p.substitute},
		{name: "enhance", enabled: opts.AutoEnhance && p.enhancer != nil, apply: p.enhance},
		{name: "multiplier", enabled: strings.TrimSpace(opts.Multiplier) != "", apply: func(_ context.Context, s string) (string, error) {
			return applyMultiplier(s, opts.Multiplier), nil
		}},
		{name: "mixup", enabled: opts.Mixup, apply: p.mixup},
		{name: "mashup", enabled: opts.Mashup && p.source != nil, apply: p.mashup},
	}

	logger := observability.FromContext(ctx)
	current := prompt
	for _, stage := range stages {
		if !stage.enabled {
			continue
		}
		next, err := stage.run(ctx, current)
		if err != nil {
			logger.Warn("prompt stage failed, keeping previous prompt",
				observability.String("stage", stage.name),
				observability.Error(err),
			)
			continue
		}
		if strings.TrimSpace(next) == "" {
			logger.Warn("prompt stage produced empty prompt, keeping previous prompt",
				observability.String("stage", stage.name),
			)
			continue
		}
		current = next
	}

	return current
}

func (p *PromptPipeline) random(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intN(n)
}

// substitute replaces ${name} with a random value from the configured list. Unknown names are left as is.
func (p *PromptPipeline) substitute(_ context.Context, prompt string) (string, error) {
	return variablePattern.ReplaceAllStringFunc(prompt, func(match string) string {
		name := variablePattern.FindStringSubmatch(match)[1]
		values := p.variables[name]
		if len(values) == 0 {
			return match
		}
		return values[p.random(len(values))]
	}), nil
}

func (p *PromptPipeline) enhance(ctx context.Context, prompt string) (string, error) {
	if p.breakers == nil {
		return p.enhancer.Enhance(ctx, prompt)
	}
	return circuitbreaker.Execute(ctx, p.breakers, AIServiceBreaker, circuitbreaker.Config{},
		func(ctx context.Context) (string, error) {
			return p.enhancer.Enhance(ctx, prompt)
		})
}

func applyMultiplier(prompt, multiplier string) string {
	modifiers := splitSegments(multiplier)
	if len(modifiers) == 0 {
		return prompt
	}
	return prompt + ", " + strings.Join(modifiers, ", ")
}

func (p *PromptPipeline) mixup(_ context.Context, prompt string) (string, error) {
	segments := splitSegments(prompt)
	if len(segments) < 2 {
		return prompt, nil
	}
	for i := len(segments) - 1; i > 0; i-- {
		j := p.random(i + 1)
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, ", "), nil
}

func (p *PromptPipeline) mashup(ctx context.Context, prompt string) (string, error) {
	load := func(ctx context.Context) ([]string, error) {
		return p.source.RecentPrompts(ctx, mashupPoolSize)
	}

	var (
		recent []string
		err    error
	)
	if p.breakers == nil {
		recent, err = load(ctx)
	} else {
		recent, err = circuitbreaker.Execute(ctx, p.breakers, DatabaseBreaker, circuitbreaker.Config{}, load)
	}
	if err != nil {
		return "", err
	}

	candidates := make([]string, 0, len(recent))
	for _, r := range recent {
		r = strings.TrimSpace(r)
		if r != "" && r != prompt {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return prompt, nil
	}

	return prompt + ", " + candidates[p.random(len(candidates))], nil
}

func splitSegments(s string) []string {
	parts := strings.Split(s, ",")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}
	return segments
}
