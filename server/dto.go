package server

import (
	"github.com/hubenschmidt/blogrec/recommend"
	"github.com/hubenschmidt/blogrec/vector"
)

type EmbedRequest struct {
	ID       string         `json:"id" validate:"required"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

func (r EmbedRequest) document() recommend.Document {
	return recommend.Document{ArticleID: r.ID, Content: r.Content, Metadata: r.Metadata}
}

type EmbedResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ID       string `json:"id"`
	VectorID string `json:"vector_id"`
}

type BulkEmbedData struct {
	Count    int                  `json:"count"`
	Embedded []recommend.Embedded `json:"embedded"`
	Skipped  []string             `json:"skipped"`
}

type BulkEmbedResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    BulkEmbedData `json:"data"`
}

type SearchResponse struct {
	Recommendations []vector.Payload `json:"recommendations"`
}

type RecommendRequest struct {
	ArticleIDs []string `json:"articleIds" validate:"required,min=1,dive,required"`
	TopK       *int     `json:"top_k"`
	Threshold  *float64 `json:"threshold" validate:"omitempty,min=0"`
}

type DeleteRequest struct {
	ArticleID string `json:"article_id" validate:"required"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}
