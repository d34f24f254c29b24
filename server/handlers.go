package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/hubenschmidt/blogrec/core"
	"github.com/hubenschmidt/blogrec/recommend"
)

const (
	defaultSearchTopK   = 5
	defaultInspectLimit = 10
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "success"})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	vectorID, err := s.engine.Embed(r.Context(), req.document())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EmbedResponse{
		Success:  true,
		Message:  "Embedding stored successfully",
		ID:       req.ID,
		VectorID: vectorID,
	})
}

func (s *Server) handleEmbedBulk(w http.ResponseWriter, r *http.Request) {
	var reqs []EmbedRequest
	if err := s.decode(w, r, &reqs); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(reqs) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: at least one item is required", core.ErrInvalidArgument))
		return
	}

	docs := make([]recommend.Document, 0, len(reqs))
	for i, req := range reqs {
		if err := s.check(req); err != nil {
			s.writeError(w, r, fmt.Errorf("item %d: %w", i, err))
			return
		}
		docs = append(docs, req.document())
	}

	res, err := s.engine.EmbedBulk(r.Context(), docs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkEmbedResponse{
		Success: true,
		Message: fmt.Sprintf("Embedded %d items, skipped %d", len(res.Embedded), len(res.Skipped)),
		Data: BulkEmbedData{
			Count:    len(res.Embedded),
			Embedded: res.Embedded,
			Skipped:  res.Skipped,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		s.writeError(w, r, fmt.Errorf("%w: query parameter q is required", core.ErrInvalidArgument))
		return
	}
	topK, err := intParam(q.Get("top_k"), "top_k", defaultSearchTopK)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	threshold, err := floatParam(q.Get("threshold"), "threshold", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payloads, err := s.engine.Search(r.Context(), text, topK, threshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Recommendations: payloads})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rr := recommend.Request{ArticleIDs: req.ArticleIDs}
	if req.TopK != nil {
		if *req.TopK < 1 {
			s.writeError(w, r, fmt.Errorf("%w: top_k must be at least 1", core.ErrInvalidArgument))
			return
		}
		rr.TopK = *req.TopK
	}
	if req.Threshold != nil {
		rr.Threshold = *req.Threshold
	}

	resp, err := s.engine.Recommend(r.Context(), rr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.engine.Delete(r.Context(), req.ArticleID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: fmt.Sprintf("Article %s deleted", req.ArticleID)})
}

func (s *Server) handleTruncate(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Truncate(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Collection truncated"})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", defaultInspectLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payloads, err := s.engine.Inspect(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payloads)
}

func intParam(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", core.ErrInvalidArgument, name)
	}
	return n, nil
}

func floatParam(raw, name string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", core.ErrInvalidArgument, name)
	}
	return f, nil
}
