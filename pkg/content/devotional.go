// Package content produces devotional study material: AI generation with a
// static fallback, scripture passage lookup and the shared template library.
package content

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
)

// Devotional is one generated study.
type Devotional struct {
	ScriptureReference string   `json:"scriptureReference"`
	Theme              string   `json:"theme"`
	CulturalContext    string   `json:"culturalContext"`
	LiteraryContext    string   `json:"literaryContext"`
	ChristConnection   string   `json:"christConnection"`
	Questions          []string `json:"questions"`
	CentralTruth       string   `json:"centralTruth,omitempty"`
	KeyTerms           string   `json:"keyGreekHebrewTerms,omitempty"`
	Commentary         string   `json:"comments,omitempty"`
	ScriptureText      string   `json:"scriptureText,omitempty"`
}

// Generator turns a scripture reference or a free-text topic into a study.
// Implementations normalise the reference they return.
type Generator interface {
	Generate(ctx context.Context, input, theme string, premium bool) (Devotional, error)
}

// PassageLookup fetches scripture text. A miss is reported as false, never as
// an error.
type PassageLookup interface {
	FetchPassageText(ctx context.Context, reference string) (string, bool)
}

// DefaultDevotional is served whenever generation fails.
func DefaultDevotional() Devotional {
	return Devotional{
		ScriptureReference: "1 Coríntios 13:4-7",
		Theme:              "O Amor é Paciente",
		CulturalContext:    "Paulo escrevia aos Coríntios em uma época onde o amor era frequentemente visto como transacional ou puramente erótico. O conceito de ágape era revolucionário.",
		LiteraryContext:    "Inserido no meio de instruções sobre dons espirituais, este capítulo funciona como o alicerce necessário para qualquer serviço cristão.",
		ChristConnection:   "Jesus é a personificação perfeita deste amor. Ele foi paciente, benigno e tudo sofreu por nós na cruz.",
		Questions: []string{
			"Em qual aspecto da descrição do amor você tem mais dificuldade hoje?",
			"Como a paciência de Cristo com você inspira sua paciência com seu cônjuge?",
			"Qual ação prática podemos tomar essa semana para demonstrar bondade um ao outro?",
		},
	}
}

// FallbackGenerator never fails: errors from Next and unusable output are
// replaced by DefaultDevotional.
type FallbackGenerator struct {
	Next Generator
}

func (f FallbackGenerator) Generate(ctx context.Context, input, theme string, premium bool) (Devotional, error) {
	if f.Next == nil {
		return DefaultDevotional(), nil
	}
	dev, err := f.Next.Generate(ctx, input, theme, premium)
	if err != nil {
		logger.Warn("content generation failed, serving default devotional", "input", input, "error", err)
		return DefaultDevotional(), nil
	}
	if strings.TrimSpace(dev.ScriptureReference) == "" {
		logger.Warn("content generation returned no reference, serving default devotional", "input", input)
		return DefaultDevotional(), nil
	}
	return dev, nil
}

// FromTemplate converts a stored template back into a Devotional.
func FromTemplate(t db.DevotionalTemplate) Devotional {
	dev := Devotional{
		ScriptureReference: t.ScriptureReference,
		Theme:              t.Theme,
		CulturalContext:    t.CulturalContext,
		LiteraryContext:    t.LiteraryContext,
		ChristConnection:   t.ChristConnection,
		CentralTruth:       t.CentralTruth,
		KeyTerms:           t.KeyTerms,
		Commentary:         t.Commentary,
	}
	if t.ScriptureText != nil {
		dev.ScriptureText = *t.ScriptureText
	}
	if len(t.ApplicationQuestions) > 0 {
		if err := json.Unmarshal(t.ApplicationQuestions, &dev.Questions); err != nil {
			logger.Warn("failed to decode template questions", "template_id", t.ID, "error", err)
		}
	}
	if dev.Questions == nil {
		dev.Questions = []string{}
	}
	return dev
}
