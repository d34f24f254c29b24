package recommend

import (
	"fmt"
	"strings"

	"github.com/hubenschmidt/blogrec/vector"
)

// Document is one blog post submitted for indexing.
type Document struct {
	ArticleID string
	// Content is embedded verbatim. When blank, text is composed from Metadata.
	Content  string
	Metadata map[string]any
}

const (
	keyShortDescription = "short_description"
	keyDescription      = "description"
)

// ComposeContent builds the embedding text for a post from its metadata:
// "{title}. {short_description} {description}. Tags: {tags} Category: {category}".
func ComposeContent(p vector.Payload) string {
	return fmt.Sprintf("%s. %s %s. Tags: %s Category: %s",
		p.Title,
		extraString(p.Extra, keyShortDescription),
		extraString(p.Extra, keyDescription),
		strings.Join(p.Tags, " "),
		p.CategoryName(),
	)
}

func extraString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// payload validates metadata and binds it to the document's article id.
func (d Document) payload() (vector.Payload, error) {
	p, err := vector.PayloadFromMap(d.Metadata)
	if err != nil {
		return vector.Payload{}, err
	}
	p.ArticleID = d.ArticleID
	if err := p.Validate(); err != nil {
		return vector.Payload{}, err
	}
	return p, nil
}

func (d Document) text(p vector.Payload) string {
	if strings.TrimSpace(d.Content) != "" {
		return d.Content
	}
	return ComposeContent(p)
}
