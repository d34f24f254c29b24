package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/hubenschmidt/blogrec/vector"
)

// HashProvider is a deterministic bag-of-words embedder using signed feature
// hashing. Texts sharing tokens land close together; it needs no model server
// and is meant for local runs and tests.
type HashProvider struct {
	dimension int
}

func NewHashProvider(dimension int) *HashProvider {
	return &HashProvider{dimension: dimension}
}

func (p *HashProvider) Name() string { return KindHash }

func (p *HashProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, p.dimension)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimension))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return vector.Normalize(vec), nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
