package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/logger"
)

const fallbackPlanTitle = "Plano de Exemplo (Fallback)"

// PlanDayDraft is one generated day of a multi-day plan.
type PlanDayDraft struct {
	Day                int    `json:"day"`
	Title              string `json:"title"`
	Theme              string `json:"theme"`
	ScriptureReference string `json:"scripture"`
}

// PlanDraft is a generated plan before it is stored.
type PlanDraft struct {
	Title string         `json:"title"`
	Days  []PlanDayDraft `json:"days"`
}

// PlanGenerator drafts a plan of duration days around description.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, description string, duration int) (PlanDraft, error)
}

// DefaultPlan is served whenever plan generation fails.
func DefaultPlan(duration int) PlanDraft {
	plan := PlanDraft{Title: fallbackPlanTitle, Days: make([]PlanDayDraft, 0, duration)}
	for i := 1; i <= duration; i++ {
		plan.Days = append(plan.Days, PlanDayDraft{
			Day:                i,
			Title:              fmt.Sprintf("Dia %d: Amor", i),
			Theme:              "Amor",
			ScriptureReference: "1 Coríntios 13:4-7",
		})
	}
	return plan
}

// FallbackPlanner never fails: errors from Next and drafts without usable
// days are replaced by DefaultPlan.
type FallbackPlanner struct {
	Next PlanGenerator
}

func (f FallbackPlanner) GeneratePlan(ctx context.Context, description string, duration int) (PlanDraft, error) {
	if f.Next == nil {
		return DefaultPlan(duration), nil
	}
	plan, err := f.Next.GeneratePlan(ctx, description, duration)
	if err != nil {
		logger.Warn("plan generation failed, serving default plan", "duration", duration, "error", err)
		return DefaultPlan(duration), nil
	}
	plan.Days = usableDays(plan.Days, duration)
	if len(plan.Days) == 0 {
		logger.Warn("plan generation returned no usable days, serving default plan", "duration", duration)
		return DefaultPlan(duration), nil
	}
	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = fallbackPlanTitle
	}
	return plan, nil
}

// usableDays keeps days numbered 1..duration that carry a reference, first
// occurrence wins.
func usableDays(days []PlanDayDraft, duration int) []PlanDayDraft {
	seen := make(map[int]bool, len(days))
	out := make([]PlanDayDraft, 0, len(days))
	for _, d := range days {
		d.ScriptureReference = strings.TrimSpace(d.ScriptureReference)
		if d.Day < 1 || d.Day > duration || d.ScriptureReference == "" || seen[d.Day] {
			continue
		}
		seen[d.Day] = true
		out = append(out, d)
	}
	return out
}

func (g *GeminiGenerator) GeneratePlan(ctx context.Context, description string, duration int) (PlanDraft, error) {
	var plan PlanDraft
	if err := g.generateJSON(ctx, buildPlanPrompt(description, duration), planSchema(), &plan); err != nil {
		return PlanDraft{}, err
	}
	return plan, nil
}

func buildPlanPrompt(description string, duration int) string {
	var sb strings.Builder
	sb.WriteString("Atue como um conselheiro cristão sábio.\n")
	fmt.Fprintf(&sb, "Crie um plano de devocional de %d dias para um casal com a seguinte descrição/objetivo: %q.\n\n", duration, description)
	sb.WriteString("Para cada dia, forneça:\n")
	fmt.Fprintf(&sb, "- Um número do dia (1 a %d)\n", duration)
	sb.WriteString(`- Um título específico e inspirador para o dia
- Um tema teológico central
- Uma referência bíblica chave que suporte o tema

Também forneça um título criativo para o plano inteiro.
Responda em PORTUGUÊS (Brasil).
`)
	return sb.String()
}

func planSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "STRING", "description": desc}
	}
	day := map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"day":       map[string]any{"type": "INTEGER"},
			"title":     str("A specific title for this day's study."),
			"theme":     str("The theological theme or topic for the day."),
			"scripture": str("The key scripture reference for the day."),
		},
		"required": []string{"day", "title", "theme", "scripture"},
	}
	return map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"title": str("A catchy and inspiring title for the entire devotional plan."),
			"days":  map[string]any{"type": "ARRAY", "items": day},
		},
		"required": []string{"title", "days"},
	}
}
