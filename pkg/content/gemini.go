package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smith3v/couple-devotional/pkg/apperr"
	"github.com/smith3v/couple-devotional/pkg/logger"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiTimeout        = 60 * time.Second
	geminiTemperature    = 0.7
)

// GeminiGenerator calls the Gemini generateContent REST endpoint with a JSON
// response schema.
type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiGenerator(apiKey, model string, client *http.Client) *GeminiGenerator {
	if client == nil {
		client = &http.Client{Timeout: geminiTimeout}
	}
	return &GeminiGenerator{apiKey: apiKey, model: model, baseURL: defaultGeminiBaseURL, client: client}
}

// WithBaseURL points the generator at another endpoint, e.g. a test server.
func (g *GeminiGenerator) WithBaseURL(base string) *GeminiGenerator {
	g.baseURL = strings.TrimRight(base, "/")
	return g
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string         `json:"responseMimeType"`
		ResponseSchema   map[string]any `json:"responseSchema"`
		Temperature      float64        `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, input, theme string, premium bool) (Devotional, error) {
	var dev Devotional
	if err := g.generateJSON(ctx, buildPrompt(input, theme, premium), devotionalSchema(premium), &dev); err != nil {
		return Devotional{}, err
	}
	dev.ScriptureReference = strings.TrimSpace(dev.ScriptureReference)
	if !premium {
		dev.CentralTruth, dev.KeyTerms, dev.Commentary = "", "", ""
	}
	return dev, nil
}

// generateJSON sends prompt with a response schema and decodes the first
// candidate's text into out.
func (g *GeminiGenerator) generateJSON(ctx context.Context, prompt string, schema map[string]any, out any) error {
	if strings.TrimSpace(g.apiKey) == "" {
		return apperr.New(apperr.KindUpstreamUnavailable, "gemini api key is not configured")
	}

	var req geminiRequest
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	req.GenerationConfig.ResponseMimeType = "application/json"
	req.GenerationConfig.ResponseSchema = schema
	req.GenerationConfig.Temperature = geminiTemperature

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode gemini request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "gemini request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snip, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("gemini non-2xx response", "status", resp.StatusCode, "body", string(snip))
		return apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("gemini responded with status %d", resp.StatusCode))
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "decode gemini response", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return apperr.New(apperr.KindUpstreamUnavailable, "gemini returned no content")
	}
	if err := json.Unmarshal([]byte(decoded.Candidates[0].Content.Parts[0].Text), out); err != nil {
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "decode generated content", err)
	}
	return nil
}

func buildPrompt(input, theme string, premium bool) string {
	var sb strings.Builder
	sb.WriteString("Atue como um conselheiro cristão sábio e experiente em casamentos.\n\n")
	fmt.Fprintf(&sb, "O usuário digitou: %q\n", input)
	if strings.TrimSpace(theme) != "" {
		fmt.Fprintf(&sb, "O tema central deste estudo deve ser: %q.\n", theme)
	}
	sb.WriteString(`
PRIMEIRO, identifique se isso é uma referência bíblica válida:
- Se for uma referência válida (ex: "1 cor 13", "salmo 23", "genesis 2:24"), normalize para o formato padrão brasileiro (ex: "1 Coríntios 13", "Salmos 23", "Gênesis 2:24")
- Se NÃO for uma referência válida (ex: "alegria", "amor", "paciência"), encontre uma passagem bíblica relevante para casais sobre esse tema

Depois, crie um estudo devocional curto e profundo para um casal baseado nessa passagem.
O tom deve ser encorajador, teologicamente profundo mas acessível.
Foque em como este texto se aplica à vida a dois.
`)
	if premium {
		sb.WriteString("Inclua também a verdade central do texto, termos-chave no grego ou hebraico e o que os comentaristas explicam.\n")
	}
	sb.WriteString("Responda em PORTUGUÊS (Brasil).\n")
	return sb.String()
}

func devotionalSchema(premium bool) map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "STRING", "description": desc}
	}
	props := map[string]any{
		"scriptureReference": str("Referência bíblica exata e válida no formato padrão brasileiro, ex: '1 Coríntios 13:4-7'."),
		"theme":              str("A short, 2-3 word theme title for the devotional."),
		"culturalContext":    str("Historical and cultural background of the passage."),
		"literaryContext":    str("Where this fits in the book/chapter and literary style."),
		"christConnection":   str("How this passage points to Jesus Christ or the Gospel."),
		"questions": map[string]any{
			"type":        "ARRAY",
			"items":       map[string]any{"type": "STRING"},
			"description": "3 specific questions for couples to discuss regarding this passage.",
		},
	}
	required := []string{"scriptureReference", "theme", "culturalContext", "literaryContext", "christConnection", "questions"}
	if premium {
		props["centralTruth"] = str("The main theological lesson of the passage.")
		props["keyGreekHebrewTerms"] = str("Key terms in the original language and their meaning.")
		props["comments"] = str("What commentators usually explain about the passage.")
		required = append(required, "centralTruth", "keyGreekHebrewTerms", "comments")
	}
	return map[string]any{"type": "OBJECT", "properties": props, "required": required}
}
