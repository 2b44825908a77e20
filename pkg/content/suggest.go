package content

import "math/rand"

// popularScriptures are passages couples commonly study together.
var popularScriptures = []string{
	"Provérbios 21:5",
	"Lucas 14:28",
	"Mateus 6:21",
	"Filipenses 4:11-13",
	"Tiago 1:20",
	"Romanos 12:18",
	"Salmos 4:4",
	"Gálatas 6:9-10",
	"Miquéias 6:8",
	"Jeremias 29:11",
	"Lamentações 3:22-23",
	"Isaías 40:31",
	"Romanos 8:28",
	"Salmos 37:5",
	"Salmos 90:12",
	"Provérbios 4:23",
	"Provérbios 27:17",
	"Mateus 7:24-27",
	"Gênesis 2",
	"Rute 1",
	"Cantares 2",
	"Salmos 23",
	"Salmos 91",
	"Salmos 139",
	"Provérbios 31",
	"Eclesiastes 3",
	"Eclesiastes 4",
	"Isaías 55",
}

// Suggester picks a scripture reference to study. Pick defaults to
// rand.Intn.
type Suggester struct {
	Pick func(n int) int
}

func (s Suggester) Suggest() string {
	pick := s.Pick
	if pick == nil {
		pick = rand.Intn
	}
	return popularScriptures[pick(len(popularScriptures))]
}

// PopularScriptures returns a copy of the suggestion list.
func PopularScriptures() []string {
	return append([]string(nil), popularScriptures...)
}
