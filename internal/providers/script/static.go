// Package script writes the scenario of a job, either through a chat model
// (OpenAI, Claude or Gemini) or with a deterministic local writer.
package script

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vidgen/internal/domain"
)

const (
	staticProviderName = "static"
	openAIProviderName = "openai"
	claudeProviderName = "claude"
	geminiProviderName = "gemini"

	targetSceneSeconds = 10
	maxScenes          = 12
)

var supportedLocales = []language.Tag{language.English, language.French, language.Indonesian}

var localeMatcher = language.NewMatcher(supportedLocales)

type phrasebook struct {
	title    string
	opening  string
	scene    string
	closing  string
	angles   []string
	lighting []string
}

var phrasebooks = map[language.Tag]phrasebook{
	language.English: {
		title:    "Untitled video",
		opening:  "Welcome. Here is %s.",
		scene:    "Scene %d of %d: %s",
		closing:  "Thanks for watching.",
		angles:   []string{"wide shot", "medium shot", "close-up", "tracking shot"},
		lighting: []string{"soft daylight", "golden hour", "high key", "moody low key"},
	},
	language.French: {
		title:    "Vidéo sans titre",
		opening:  "Bienvenue. Voici %s.",
		scene:    "Scène %d sur %d : %s",
		closing:  "Merci d'avoir regardé.",
		angles:   []string{"plan large", "plan moyen", "gros plan", "travelling"},
		lighting: []string{"lumière du jour douce", "heure dorée", "high key", "low key"},
	},
	language.Indonesian: {
		title:    "Video tanpa judul",
		opening:  "Selamat datang. Inilah %s.",
		scene:    "Adegan %d dari %d: %s",
		closing:  "Terima kasih sudah menonton.",
		angles:   []string{"wide shot", "medium shot", "close-up", "tracking shot"},
		lighting: []string{"cahaya siang lembut", "golden hour", "high key", "low key"},
	},
}

// StaticWriter builds a scenario from the prompt alone. It needs no network
// and is used when no model key is configured or as a fallback.
type StaticWriter struct{}

func NewStaticWriter() *StaticWriter {
	return &StaticWriter{}
}

func (w *StaticWriter) Generate(ctx context.Context, req domain.JobRequest) (domain.Scenario, error) {
	if err := ctx.Err(); err != nil {
		return domain.Scenario{}, err
	}
	tag := matchLocale(req.Locale)
	book := phrasebooks[tag]

	count := int(math.Ceil(float64(req.DurationSeconds) / targetSceneSeconds))
	if count < 1 {
		count = 1
	}
	if count > maxScenes {
		count = maxScenes
	}

	sentences := splitSentences(req.Prompt)
	topic := coalesce(firstWords(req.Prompt, 6), book.title)
	durations := splitDuration(float64(req.DurationSeconds), count)

	scenario := domain.Scenario{Title: cases.Title(tag).String(topic)}
	for i := 0; i < count; i++ {
		beat := topic
		if len(sentences) > 0 {
			beat = sentences[i%len(sentences)]
		}
		scene := domain.Scene{
			Number:          i + 1,
			DurationSeconds: durations[i],
			Description:     fmt.Sprintf(book.scene, i+1, count, beat),
			VisualElements:  sceneElements(req, i, count),
			CameraAngle:     book.angles[i%len(book.angles)],
			Lighting:        book.lighting[i%len(book.lighting)],
		}
		switch {
		case i == 0:
			scene.Dialogue = fmt.Sprintf(book.opening, topic)
		case i == count-1:
			scene.Dialogue = book.closing
		case i < len(sentences):
			scene.Dialogue = sentences[i]
		}
		scenario.Scenes = append(scenario.Scenes, scene)
	}
	return scenario, nil
}

func matchLocale(locale string) language.Tag {
	if strings.TrimSpace(locale) == "" {
		return language.English
	}
	_, idx, confidence := localeMatcher.Match(language.Make(locale))
	if confidence == language.No {
		return language.English
	}
	return supportedLocales[idx]
}

// splitDuration divides total into count parts rounded to centiseconds, the
// last part absorbing the rounding so the parts sum to total.
func splitDuration(total float64, count int) []float64 {
	parts := make([]float64, count)
	each := math.Floor(total/float64(count)*100) / 100
	var used float64
	for i := 0; i < count-1; i++ {
		parts[i] = each
		used += each
	}
	parts[count-1] = math.Round((total-used)*100) / 100
	return parts
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Trim(strings.Join(words, " "), ".,;:!?")
}

func sceneElements(req domain.JobRequest, index, count int) []string {
	var out []string
	if style := strings.TrimSpace(req.VisualStyle); style != "" {
		out = append(out, style)
	}
	for i, el := range req.IncludeElements {
		if i%count == index {
			out = append(out, el)
		}
	}
	return cleanList(out)
}
