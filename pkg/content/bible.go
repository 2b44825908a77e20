package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/smith3v/couple-devotional/pkg/logger"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const bibleTimeout = 15 * time.Second

// books maps accent-free Portuguese book names and abbreviations to the
// ABíbliaDigital abbreviation.
var books = map[string]string{
	"genesis": "gn", "gn": "gn",
	"exodo": "ex", "ex": "ex",
	"levitico": "lv", "lv": "lv",
	"numeros": "nm", "nm": "nm",
	"deuteronomio": "dt", "dt": "dt",
	"josue": "js", "js": "js",
	"juizes": "jz", "jz": "jz",
	"rute": "rt", "rt": "rt",
	"1 samuel": "1sm", "1sm": "1sm",
	"2 samuel": "2sm", "2sm": "2sm",
	"1 reis": "1rs", "1rs": "1rs",
	"2 reis": "2rs", "2rs": "2rs",
	"1 cronicas": "1cr", "1cr": "1cr",
	"2 cronicas": "2cr", "2cr": "2cr",
	"esdras": "ed", "ed": "ed",
	"neemias": "ne", "ne": "ne",
	"ester": "et", "et": "et",
	"jo": "jó", "job": "jó",
	"salmos": "sl", "salmo": "sl", "sl": "sl",
	"proverbios": "pv", "pv": "pv",
	"eclesiastes": "ec", "ec": "ec",
	"canticos": "ct", "cantares": "ct", "cantico dos canticos": "ct", "ct": "ct",
	"isaias": "is", "is": "is",
	"jeremias": "jr", "jr": "jr",
	"lamentacoes": "lm", "lm": "lm",
	"ezequiel": "ez", "ez": "ez",
	"daniel": "dn", "dn": "dn",
	"oseias": "os", "os": "os",
	"joel": "jl", "jl": "jl",
	"amos": "am", "am": "am",
	"obadias": "ob", "ob": "ob",
	"jonas": "jn", "jn": "jn",
	"miqueias": "mq", "mq": "mq",
	"naum": "na", "na": "na",
	"habacuque": "hc", "hc": "hc",
	"sofonias": "sf", "sf": "sf",
	"ageu": "ag", "ag": "ag",
	"zacarias": "zc", "zc": "zc",
	"malaquias": "ml", "ml": "ml",
	"mateus": "mt", "mt": "mt",
	"marcos": "mc", "mc": "mc",
	"lucas": "lc", "lc": "lc",
	"joao": "jo",
	"atos": "at", "at": "at",
	"romanos": "rm", "rm": "rm",
	"1 corintios": "1co", "1co": "1co",
	"2 corintios": "2co", "2co": "2co",
	"galatas": "gl", "gl": "gl",
	"efesios": "ef", "ef": "ef",
	"filipenses": "fp", "fp": "fp",
	"colossenses": "cl", "cl": "cl",
	"1 tessalonicenses": "1ts", "1ts": "1ts",
	"2 tessalonicenses": "2ts", "2ts": "2ts",
	"1 timoteo": "1tm", "1tm": "1tm",
	"2 timoteo": "2tm", "2tm": "2tm",
	"tito": "tt", "tt": "tt",
	"filemom": "fm", "filemon": "fm", "fm": "fm",
	"hebreus": "hb", "hb": "hb",
	"tiago": "tg", "tg": "tg",
	"1 pedro": "1pe", "1pe": "1pe",
	"2 pedro": "2pe", "2pe": "2pe",
	"1 joao": "1jo", "1jo": "1jo",
	"2 joao": "2jo", "2jo": "2jo",
	"3 joao": "3jo", "3jo": "3jo",
	"judas": "jd", "jd": "jd",
	"apocalipse": "ap", "ap": "ap",
}

var (
	referencePattern = regexp.MustCompile(`^(.+?)\s*(\d+)(?:\s*[:,.]\s*(\d+)(?:\s*[-–]\s*(\d+))?)?$`)
	numberedBook     = regexp.MustCompile(`^([1-3])\s*(\D.*)$`)
	spaces           = regexp.MustCompile(`\s+`)
)

// Reference is a parsed scripture reference. Verse fields are zero when absent.
type Reference struct {
	Book       string
	Chapter    int
	VerseStart int
	VerseEnd   int
}

// foldAccents lower-cases s and strips combining marks, so "Coríntios" and
// "corintios" compare equal.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ParseReference understands forms like "Salmos 1", "João 3:16" and
// "1 Coríntios 13:4-8".
func ParseReference(ref string) (Reference, bool) {
	normalized := spaces.ReplaceAllString(strings.TrimSpace(foldAccents(ref)), " ")
	m := referencePattern.FindStringSubmatch(normalized)
	if m == nil {
		return Reference{}, false
	}
	book := strings.TrimSpace(m[1])
	if nm := numberedBook.FindStringSubmatch(book); nm != nil {
		book = nm[1] + " " + strings.TrimSpace(nm[2])
	}
	abbrev, ok := books[book]
	if !ok {
		abbrev, ok = books[strings.ReplaceAll(book, " ", "")]
	}
	if !ok {
		return Reference{}, false
	}

	out := Reference{Book: abbrev}
	out.Chapter, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		out.VerseStart, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		out.VerseEnd, _ = strconv.Atoi(m[4])
	}
	return out, true
}

// BibleClient looks up passages on the ABíbliaDigital REST API.
type BibleClient struct {
	baseURL string
	version string
	token   string
	client  *http.Client
}

func NewBibleClient(baseURL, version, token string, client *http.Client) *BibleClient {
	if client == nil {
		client = &http.Client{Timeout: bibleTimeout}
	}
	return &BibleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		token:   token,
		client:  client,
	}
}

type bibleVerse struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

type bibleChapter struct {
	Verses []bibleVerse `json:"verses"`
}

func (c *BibleClient) FetchPassageText(ctx context.Context, reference string) (string, bool) {
	ref, ok := ParseReference(reference)
	if !ok {
		logger.Warn("could not parse scripture reference", "reference", reference)
		return "", false
	}

	path := fmt.Sprintf("%s/verses/%s/%s/%d", c.baseURL, url.PathEscape(c.version), url.PathEscape(ref.Book), ref.Chapter)
	single := ref.VerseStart > 0 && ref.VerseEnd <= ref.VerseStart
	if single {
		path += "/" + strconv.Itoa(ref.VerseStart)
	}

	var verses []bibleVerse
	if single {
		var v bibleVerse
		if !c.get(ctx, path, &v) || strings.TrimSpace(v.Text) == "" {
			return "", false
		}
		verses = []bibleVerse{v}
	} else {
		var chapter bibleChapter
		if !c.get(ctx, path, &chapter) {
			return "", false
		}
		for _, v := range chapter.Verses {
			if ref.VerseStart > 0 && (v.Number < ref.VerseStart || v.Number > ref.VerseEnd) {
				continue
			}
			verses = append(verses, v)
		}
	}
	if len(verses) == 0 {
		return "", false
	}

	lines := make([]string, 0, len(verses))
	for _, v := range verses {
		lines = append(lines, fmt.Sprintf("%d. %s", v.Number, strings.TrimSpace(v.Text)))
	}
	return strings.Join(lines, "\n"), true
}

func (c *BibleClient) get(ctx context.Context, endpoint string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Warn("failed to build bible request", "url", endpoint, "error", err)
		return false
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("bible request failed", "url", endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		logger.Warn("bible api non-2xx response", "url", endpoint, "status", resp.StatusCode)
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		logger.Warn("failed to decode bible response", "url", endpoint, "error", err)
		return false
	}
	return true
}
