package vector

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/hubenschmidt/blogrec/core"
)

// Payload keys with a fixed schema. Every other key is carried in Extra.
const (
	KeyArticleID = "articleId"
	KeyTitle     = "title"
	KeyCategory  = "category"
	KeyTags      = "tags"
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	ArticleID string
	Title     string
	Category  *string
	Tags      []string
	Extra     map[string]any
}

// Validate enforces the fields every stored payload must carry.
func (p Payload) Validate() error {
	if p.ArticleID == "" {
		return fmt.Errorf("%w: payload %s is required", core.ErrInvalidArgument, KeyArticleID)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: payload %s is required", core.ErrInvalidArgument, KeyTitle)
	}
	return nil
}

// CategoryName returns the category or "" when it is null.
func (p Payload) CategoryName() string {
	if p.Category == nil {
		return ""
	}
	return *p.Category
}

// Map flattens the payload into a single JSON-ready map.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		m[k] = v
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	m[KeyArticleID] = p.ArticleID
	m[KeyTitle] = p.Title
	m[KeyTags] = tags
	if p.Category != nil {
		m[KeyCategory] = *p.Category
	} else {
		m[KeyCategory] = nil
	}
	return m
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := PayloadFromMap(m)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PayloadFromMap extracts the fixed fields from a loosely typed metadata map.
// Fields of the wrong type are rejected with core.ErrInvalidArgument.
func PayloadFromMap(m map[string]any) (Payload, error) {
	var p Payload
	p.Tags = []string{}

	for k, v := range m {
		switch k {
		case KeyArticleID:
			s, ok := v.(string)
			if !ok {
				return Payload{}, malformed(k, v)
			}
			p.ArticleID = s
		case KeyTitle:
			s, ok := v.(string)
			if !ok {
				return Payload{}, malformed(k, v)
			}
			p.Title = s
		case KeyCategory:
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return Payload{}, malformed(k, v)
			}
			p.Category = &s
		case KeyTags:
			tags, err := parseTags(v)
			if err != nil {
				return Payload{}, err
			}
			p.Tags = tags
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return p, nil
}

func parseTags(v any) ([]string, error) {
	switch tags := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, tags...), nil
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			s, ok := t.(string)
			if !ok {
				return nil, malformed(KeyTags, v)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, malformed(KeyTags, v)
	}
}

func malformed(key string, v any) error {
	return fmt.Errorf("%w: payload %s has unexpected type %T", core.ErrInvalidArgument, key, v)
}
