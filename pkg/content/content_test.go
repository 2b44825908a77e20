package content

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	calls atomic.Int32
	fn    func(input, theme string, premium bool) (Devotional, error)
}

func (s *stubGenerator) Generate(_ context.Context, input, theme string, premium bool) (Devotional, error) {
	s.calls.Add(1)
	return s.fn(input, theme, premium)
}

type stubPassages map[string]string

func (s stubPassages) FetchPassageText(_ context.Context, ref string) (string, bool) {
	text, ok := s[ref]
	return text, ok
}

func TestFallbackGenerator(t *testing.T) {
	failing := &stubGenerator{fn: func(string, string, bool) (Devotional, error) {
		return Devotional{}, errors.New("quota exceeded")
	}}
	dev, err := FallbackGenerator{Next: failing}.Generate(context.Background(), "Romanos 8", "", false)
	require.NoError(t, err)
	assert.Equal(t, "1 Coríntios 13:4-7", dev.ScriptureReference)
	assert.Len(t, dev.Questions, 3)

	empty := &stubGenerator{fn: func(string, string, bool) (Devotional, error) { return Devotional{}, nil }}
	dev, err = FallbackGenerator{Next: empty}.Generate(context.Background(), "x", "", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultDevotional().ScriptureReference, dev.ScriptureReference)

	ok := &stubGenerator{fn: func(string, string, bool) (Devotional, error) {
		return Devotional{ScriptureReference: "Romanos 8"}, nil
	}}
	dev, err = FallbackGenerator{Next: ok}.Generate(context.Background(), "rm 8", "", false)
	require.NoError(t, err)
	assert.Equal(t, "Romanos 8", dev.ScriptureReference)
}

func TestGeminiGenerator(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		generated, _ := json.Marshal(Devotional{
			ScriptureReference: " Romanos 8 ",
			Theme:              "Sem condenação",
			Questions:          []string{"q1", "q2", "q3"},
			CentralTruth:       "should be dropped for free users",
		})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": string(generated)}}},
			}},
		})
	}))
	defer srv.Close()

	gen := NewGeminiGenerator("secret", "gemini-test", srv.Client()).WithBaseURL(srv.URL)
	dev, err := gen.Generate(context.Background(), "Romans 8", "graça", false)
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotBody.GenerationConfig.ResponseMimeType)
	require.Len(t, gotBody.Contents, 1)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "Romans 8")
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "graça")
	assert.Equal(t, "Romanos 8", dev.ScriptureReference)
	assert.Empty(t, dev.CentralTruth)
}

func TestGeminiGeneratorFailures(t *testing.T) {
	_, err := NewGeminiGenerator("", "m", nil).Generate(context.Background(), "x", "", false)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"quota"}`)
	}))
	defer srv.Close()
	_, err = NewGeminiGenerator("k", "m", srv.Client()).WithBaseURL(srv.URL).Generate(context.Background(), "x", "", true)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestPremiumSchemaRequiresExtraFields(t *testing.T) {
	free := devotionalSchema(false)["required"].([]string)
	premium := devotionalSchema(true)["required"].([]string)
	assert.NotContains(t, free, "centralTruth")
	assert.Contains(t, premium, "centralTruth")
	assert.Contains(t, premium, "keyGreekHebrewTerms")
}

func TestParseReference(t *testing.T) {
	cases := []struct {
		in   string
		want Reference
		ok   bool
	}{
		{"Salmos 23", Reference{Book: "sl", Chapter: 23}, true},
		{"João 3:16", Reference{Book: "jo", Chapter: 3, VerseStart: 16}, true},
		{"1 Coríntios 13:4-7", Reference{Book: "1co", Chapter: 13, VerseStart: 4, VerseEnd: 7}, true},
		{"1corintios 13:4–7", Reference{Book: "1co", Chapter: 13, VerseStart: 4, VerseEnd: 7}, true},
		{"  GÊNESIS   2:24 ", Reference{Book: "gn", Chapter: 2, VerseStart: 24}, true},
		{"Jó 1", Reference{Book: "jó", Chapter: 1}, true},
		{"1 jo 4.8", Reference{Book: "1jo", Chapter: 4, VerseStart: 8}, true},
		{"Romans 8", Reference{}, false},
		{"amor", Reference{}, false},
	}
	for _, tc := range cases {
		got, ok := ParseReference(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func bibleServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/verses/nvi/1co/13":
			_ = json.NewEncoder(w).Encode(bibleChapter{Verses: []bibleVerse{
				{3, "a"}, {4, " O amor é paciente "}, {5, "b"}, {6, "c"}, {7, "d"}, {8, "e"},
			}})
		case "/verses/nvi/jo/3/16":
			_ = json.NewEncoder(w).Encode(bibleVerse{Number: 16, Text: "Porque Deus tanto amou o mundo"})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestBibleClientFetchPassageText(t *testing.T) {
	srv := bibleServer(t)
	defer srv.Close()
	client := NewBibleClient(srv.URL+"/", "nvi", "tok", srv.Client())
	ctx := context.Background()

	text, ok := client.FetchPassageText(ctx, "1 Coríntios 13:4-7")
	require.True(t, ok)
	assert.Equal(t, "4. O amor é paciente\n5. b\n6. c\n7. d", text)

	text, ok = client.FetchPassageText(ctx, "João 3:16")
	require.True(t, ok)
	assert.Equal(t, "16. Porque Deus tanto amou o mundo", text)

	text, ok = client.FetchPassageText(ctx, "1 Coríntios 13")
	require.True(t, ok)
	assert.Equal(t, 6, len(strings.Split(text, "\n")))

	_, ok = client.FetchPassageText(ctx, "Apocalipse 99")
	assert.False(t, ok)
	_, ok = client.FetchPassageText(ctx, "not a reference")
	assert.False(t, ok)
}

func TestLibraryResolveCachesByReference(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	gen := &stubGenerator{fn: func(input, theme string, premium bool) (Devotional, error) {
		return Devotional{ScriptureReference: "1 Coríntios 13:4-7", Theme: "Amor", Questions: []string{"q"}}, nil
	}}
	lib := NewLibrary(gdb, gen, stubPassages{"1 Coríntios 13:4-7": "4. O amor é paciente"})
	ctx := context.Background()

	first, err := lib.Resolve(ctx, "amor", "", false)
	require.NoError(t, err)
	assert.Equal(t, "1 Coríntios 13:4-7", first.ScriptureReference)
	require.NotNil(t, first.ScriptureText)
	assert.Equal(t, "4. O amor é paciente", *first.ScriptureText)

	second, err := lib.Resolve(ctx, "1 Coríntios 13:4-7", "", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 1, gen.calls.Load())

	// Free text that normalises to a stored reference reuses the row.
	third, err := lib.Resolve(ctx, "paciência", "", false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	var count int64
	require.NoError(t, gdb.Model(&db.DevotionalTemplate{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	dev := FromTemplate(third)
	assert.Equal(t, []string{"q"}, dev.Questions)
	assert.Equal(t, "4. O amor é paciente", dev.ScriptureText)

	loaded, err := lib.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ScriptureReference, loaded.ScriptureReference)
	_, err = lib.Get(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestLibraryResolveConcurrent(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	gen := &stubGenerator{fn: func(input, theme string, premium bool) (Devotional, error) {
		return Devotional{ScriptureReference: "Romanos 8", Questions: []string{}}, nil
	}}
	lib := NewLibrary(gdb, gen, nil)

	const callers = 5
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tpl, err := lib.Resolve(context.Background(), "Romans 8", "", false)
			if assert.NoError(t, err) {
				ids[i] = tpl.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var count int64
	require.NoError(t, gdb.Model(&db.DevotionalTemplate{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestLibraryResolveErrors(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	gen := &stubGenerator{fn: func(string, string, bool) (Devotional, error) {
		return Devotional{}, apperr.New(apperr.KindUpstreamUnavailable, "down")
	}}
	lib := NewLibrary(gdb, gen, nil)

	_, err := lib.Resolve(context.Background(), "  ", "", false)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = lib.Resolve(context.Background(), "Romanos 8", "", false)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	fallback := NewLibrary(gdb, FallbackGenerator{Next: gen}, nil)
	tpl, err := fallback.Resolve(context.Background(), "Romanos 8", "", false)
	require.NoError(t, err)
	assert.Equal(t, DefaultDevotional().ScriptureReference, tpl.ScriptureReference)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingGenerator) Generate(ctx context.Context, input, theme string, premium bool) (Devotional, error) {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	if b.ctxErr != nil {
		return Devotional{}, b.ctxErr
	}
	return Devotional{ScriptureReference: "Salmos 23", Questions: []string{"q"}}, nil
}

func TestLibraryGenerationOutlivesCallerCancel(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	lib := NewLibrary(gdb, gen, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := lib.Resolve(ctx, "Salmo 23", "", false)
		done <- err
	}()
	<-gen.started
	cancel()
	close(gen.release)
	require.NoError(t, <-done)
	assert.NoError(t, gen.ctxErr)

	var count int64
	require.NoError(t, gdb.Model(&db.DevotionalTemplate{}).Where("scripture_reference = ?", "Salmos 23").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

type stubPlanner struct {
	plan PlanDraft
	err  error
}

func (s stubPlanner) GeneratePlan(context.Context, string, int) (PlanDraft, error) {
	return s.plan, s.err
}

func TestDefaultPlan(t *testing.T) {
	plan := DefaultPlan(3)
	assert.Equal(t, "Plano de Exemplo (Fallback)", plan.Title)
	require.Len(t, plan.Days, 3)
	assert.Equal(t, 3, plan.Days[2].Day)
	assert.Equal(t, "Dia 3: Amor", plan.Days[2].Title)
	assert.Equal(t, "1 Coríntios 13:4-7", plan.Days[0].ScriptureReference)
}

func TestFallbackPlanner(t *testing.T) {
	ctx := context.Background()

	plan, err := FallbackPlanner{}.GeneratePlan(ctx, "paciência", 2)
	require.NoError(t, err)
	assert.Len(t, plan.Days, 2)

	plan, err = FallbackPlanner{Next: stubPlanner{err: errors.New("quota")}}.GeneratePlan(ctx, "paciência", 4)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlan(4), plan)

	plan, err = FallbackPlanner{Next: stubPlanner{plan: PlanDraft{Title: "x", Days: []PlanDayDraft{{Day: 9, ScriptureReference: "Rute 1"}}}}}.GeneratePlan(ctx, "d", 2)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlan(2), plan)

	generated := PlanDraft{Days: []PlanDayDraft{
		{Day: 1, Title: "Início", Theme: "Fé", ScriptureReference: " Hebreus 11 "},
		{Day: 1, Title: "Duplicado", ScriptureReference: "Rute 1"},
		{Day: 2, Title: "Sem referência"},
		{Day: 3, Title: "Fim", Theme: "Esperança", ScriptureReference: "Isaías 40:31"},
	}}
	plan, err = FallbackPlanner{Next: stubPlanner{plan: generated}}.GeneratePlan(ctx, "fé", 3)
	require.NoError(t, err)
	assert.Equal(t, "Plano de Exemplo (Fallback)", plan.Title)
	require.Len(t, plan.Days, 2)
	assert.Equal(t, "Hebreus 11", plan.Days[0].ScriptureReference)
	assert.Equal(t, 3, plan.Days[1].Day)
}

func TestGeminiGeneratePlan(t *testing.T) {
	var gotBody geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		generated := `{"title":"Sete dias de paciência","days":[{"day":1,"title":"Dia 1","theme":"Paciência","scripture":"Tiago 1:19-20"}]}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": generated}}},
			}},
		})
	}))
	defer srv.Close()

	gen := NewGeminiGenerator("secret", "gemini-test", srv.Client()).WithBaseURL(srv.URL)
	plan, err := gen.GeneratePlan(context.Background(), "aprender a esperar", 7)
	require.NoError(t, err)
	assert.Equal(t, "Sete dias de paciência", plan.Title)
	require.Len(t, plan.Days, 1)
	assert.Equal(t, "Tiago 1:19-20", plan.Days[0].ScriptureReference)
	require.Len(t, gotBody.Contents, 1)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "7 dias")
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "aprender a esperar")
	assert.Equal(t, "OBJECT", gotBody.GenerationConfig.ResponseSchema["type"])
}

func TestSuggester(t *testing.T) {
	assert.Equal(t, "Provérbios 21:5", Suggester{Pick: func(int) int { return 0 }}.Suggest())
	all := PopularScriptures()
	assert.Equal(t, "Isaías 55", Suggester{Pick: func(n int) int { return n - 1 }}.Suggest())
	assert.Contains(t, all, Suggester{}.Suggest())
}
