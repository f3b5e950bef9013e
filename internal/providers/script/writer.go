package script

import (
	"context"
	"fmt"
	"strings"

	"vidgen/internal/domain"
	"vidgen/internal/pipeline"
)

// fallbackPolicy hands a failed request to a secondary writer when one is
// configured. Cancelled requests are never handed over.
type fallbackPolicy struct {
	fallback   pipeline.ScriptGenerator
	onFallback func(reason string, err error)
}

func (f fallbackPolicy) useFallback(ctx context.Context, req domain.JobRequest, reason string, cause error) (domain.Scenario, error) {
	if f.onFallback != nil {
		f.onFallback(reason, cause)
	}
	if f.fallback == nil || ctx.Err() != nil {
		return domain.Scenario{}, cause
	}
	return f.fallback.Generate(ctx, req)
}

// finishScenario parses a model reply into a scenario.
func finishScenario(req domain.JobRequest, raw string) (domain.Scenario, error) {
	scenario, err := parseScenario(raw)
	if err != nil {
		return domain.Scenario{}, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	if scenario.Title == "" {
		scenario.Title = firstWords(req.Prompt, 6)
	}
	return scenario, nil
}

func buildScenarioPrompt(req domain.JobRequest) string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "Write a %d second video scenario based on this prompt: %q.\n", req.DurationSeconds, strings.TrimSpace(req.Prompt))
	fmt.Fprintf(sb, "Visual style: %s.\n", coalesce(req.VisualStyle, "realistic"))
	if len(req.IncludeElements) > 0 {
		fmt.Fprintf(sb, "Elements to include: %s.\n", strings.Join(req.IncludeElements, ", "))
	}
	if req.MusicStyle != "" {
		fmt.Fprintf(sb, "Background music style: %s.\n", req.MusicStyle)
	}
	fmt.Fprintf(sb, "Write dialogue in locale %q. Scene durations must add up to %d seconds.", matchLocale(req.Locale).String(), req.DurationSeconds)
	return sb.String()
}

var (
	_ pipeline.ScriptGenerator = (*OpenAIWriter)(nil)
	_ pipeline.ScriptGenerator = (*ClaudeWriter)(nil)
	_ pipeline.ScriptGenerator = (*GeminiWriter)(nil)
	_ pipeline.ScriptGenerator = (*StaticWriter)(nil)
)
