package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Library is the append-only template cache keyed by scripture reference.
// Templates are shared across couples so each passage is generated once.
type Library struct {
	db        *gorm.DB
	generator Generator
	passages  PassageLookup
	inflight  singleflight.Group
}

func NewLibrary(gdb *gorm.DB, generator Generator, passages PassageLookup) *Library {
	if generator == nil {
		generator = FallbackGenerator{}
	}
	return &Library{db: gdb, generator: generator, passages: passages}
}

// Resolve returns the template for input, generating and storing it on a miss.
func (l *Library) Resolve(ctx context.Context, input, theme string, premium bool) (db.DevotionalTemplate, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return db.DevotionalTemplate{}, apperr.Validation("scripture reference or theme is required")
	}

	if tpl, ok, err := l.find(ctx, input); err != nil || ok {
		return tpl, err
	}

	key := fmt.Sprintf("%s|%s|%t", strings.ToLower(input), strings.ToLower(strings.TrimSpace(theme)), premium)
	// The first caller's cancellation must not fail the callers sharing its result.
	genCtx := context.WithoutCancel(ctx)
	v, err, shared := l.inflight.Do(key, func() (any, error) {
		return l.generate(genCtx, input, theme, premium)
	})
	if err != nil {
		return db.DevotionalTemplate{}, err
	}
	if shared {
		logger.Debug("template generation shared with a concurrent request", "input", input)
	}
	return v.(db.DevotionalTemplate), nil
}

func (l *Library) generate(ctx context.Context, input, theme string, premium bool) (db.DevotionalTemplate, error) {
	dev, err := l.generator.Generate(ctx, input, theme, premium)
	if err != nil {
		return db.DevotionalTemplate{}, err
	}
	dev.ScriptureReference = strings.TrimSpace(dev.ScriptureReference)
	if dev.ScriptureReference == "" {
		return db.DevotionalTemplate{}, apperr.New(apperr.KindUpstreamUnavailable, "generator returned no scripture reference")
	}

	// The generator normalises free text; the normalised reference may already be stored.
	if tpl, ok, err := l.find(ctx, dev.ScriptureReference); err != nil || ok {
		return tpl, err
	}

	questions, err := json.Marshal(nonNil(dev.Questions))
	if err != nil {
		return db.DevotionalTemplate{}, fmt.Errorf("encode questions: %w", err)
	}
	tpl := db.DevotionalTemplate{
		ScriptureReference:   dev.ScriptureReference,
		Theme:                dev.Theme,
		CulturalContext:      dev.CulturalContext,
		LiteraryContext:      dev.LiteraryContext,
		ChristConnection:     dev.ChristConnection,
		ApplicationQuestions: questions,
		CentralTruth:         dev.CentralTruth,
		KeyTerms:             dev.KeyTerms,
		Commentary:           dev.Commentary,
	}
	if l.passages != nil {
		if text, ok := l.passages.FetchPassageText(ctx, dev.ScriptureReference); ok {
			tpl.ScriptureText = &text
		}
	}

	err = l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "scripture_reference"}}, DoNothing: true}).
		Create(&tpl).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return db.DevotionalTemplate{}, fmt.Errorf("store template: %w", err)
	}

	stored, ok, err := l.find(ctx, dev.ScriptureReference)
	if err != nil {
		return db.DevotionalTemplate{}, err
	}
	if !ok {
		return db.DevotionalTemplate{}, fmt.Errorf("template %q missing after insert", dev.ScriptureReference)
	}
	logger.Info("devotional template stored", "template_id", stored.ID, "reference", stored.ScriptureReference)
	return stored, nil
}

// Get loads a template by id.
func (l *Library) Get(ctx context.Context, id string) (db.DevotionalTemplate, error) {
	var tpl db.DevotionalTemplate
	err := l.db.WithContext(ctx).First(&tpl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.DevotionalTemplate{}, apperr.NotFound("template not found")
	}
	if err != nil {
		return db.DevotionalTemplate{}, fmt.Errorf("load template: %w", err)
	}
	return tpl, nil
}

func (l *Library) find(ctx context.Context, reference string) (db.DevotionalTemplate, bool, error) {
	var tpl db.DevotionalTemplate
	err := l.db.WithContext(ctx).Where("scripture_reference = ?", reference).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.DevotionalTemplate{}, false, nil
	}
	if err != nil {
		return db.DevotionalTemplate{}, false, fmt.Errorf("load template: %w", err)
	}
	return tpl, true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
