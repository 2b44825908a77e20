package pairing

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroups      = 3
	codeGroupLength = 3
)

// NewCode draws a join code such as AB1-CD2-EF3.
func NewCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	groups := make([]string, 0, codeGroups)
	for g := 0; g < codeGroups; g++ {
		var sb strings.Builder
		for i := 0; i < codeGroupLength; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			sb.WriteByte(codeAlphabet[n.Int64()])
		}
		groups = append(groups, sb.String())
	}
	return strings.Join(groups, "-"), nil
}

// NormalizeCode makes typed codes comparable with stored ones: case, blanks,
// underscores and missing separators are tolerated.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.NewReplacer(" ", "-", "_", "-").Replace(code)
	for strings.Contains(code, "--") {
		code = strings.ReplaceAll(code, "--", "-")
	}
	if len(code) == codeGroups*codeGroupLength && !strings.Contains(code, "-") {
		return code[0:3] + "-" + code[3:6] + "-" + code[6:9]
	}
	return code
}
