package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidgen/internal/domain"
)

type modelScenePayload struct {
	Number          int      `json:"scene_number"`
	Duration        float64  `json:"duration"`
	DurationSeconds float64  `json:"duration_seconds"`
	Description     string   `json:"description"`
	Dialogue        string   `json:"dialogue"`
	VisualElements  []string `json:"visual_elements"`
	CameraAngle     string   `json:"camera_angle"`
	Lighting        string   `json:"lighting"`
}

type modelScenarioPayload struct {
	Title  string              `json:"title"`
	Scenes []modelScenePayload `json:"scenes"`
}

// parseScenario decodes a model answer into a scenario. Scene numbers are
// kept as written; ordering is checked by the pipeline.
func parseScenario(raw string) (domain.Scenario, error) {
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return domain.Scenario{}, errors.New("empty payload")
	}
	var payload modelScenarioPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return domain.Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if len(payload.Scenes) == 0 {
		return domain.Scenario{}, errors.New("scenario has no scenes")
	}

	numbered := false
	for _, s := range payload.Scenes {
		if s.Number != 0 {
			numbered = true
			break
		}
	}

	out := domain.Scenario{Title: strings.TrimSpace(payload.Title)}
	for i, s := range payload.Scenes {
		number := s.Number
		if !numbered {
			number = i + 1
		}
		duration := s.Duration
		if duration <= 0 {
			duration = s.DurationSeconds
		}
		out.Scenes = append(out.Scenes, domain.Scene{
			Number:          number,
			DurationSeconds: duration,
			Description:     strings.TrimSpace(s.Description),
			Dialogue:        strings.TrimSpace(s.Dialogue),
			VisualElements:  cleanList(s.VisualElements),
			CameraAngle:     strings.TrimSpace(s.CameraAngle),
			Lighting:        strings.TrimSpace(s.Lighting),
		})
	}
	return out, nil
}

func cleanList(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
