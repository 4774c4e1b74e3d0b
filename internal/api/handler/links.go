package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/maraichr/docflow/internal/item"
	"github.com/maraichr/docflow/pkg/apierr"
)

type LinkHandler struct {
	itemRoutes
}

func NewLinkHandler(logger *slog.Logger, mgr ItemManager) *LinkHandler {
	return &LinkHandler{itemRoutes{logger: logger, mgr: mgr, kind: item.KindLink}}
}

type createLinksRequest struct {
	Links []string `json:"links"`
}

// Create adds every distinct link of the request. All links are validated
// before any is added; links that fail to be added are logged and skipped.
func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createLinksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, h.logger, apierr.InvalidRequestBody())
		return
	}

	links := normalizeLinks(req.Links)
	if len(links) == 0 {
		writeAPIError(w, h.logger, apierr.LinksRequired())
		return
	}
	for _, l := range links {
		if e := validateURL(l); e != nil {
			writeAPIError(w, h.logger, e)
			return
		}
	}

	ids := make([]uuid.UUID, 0, len(links))
	var failed []string
	var lastErr error
	for _, l := range links {
		it, err := h.mgr.AddLink(r.Context(), l)
		if err != nil {
			h.logger.Error("add link", slog.String("uri", l), slog.String("error", err.Error()))
			failed = append(failed, l)
			lastErr = err
			continue
		}
		ids = append(ids, it.ID)
	}
	if len(ids) == 0 {
		writeAPIError(w, h.logger, apierr.ItemCreateFailed(lastErr).WithDetails(failed...))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Link(s) added successfully",
		"id":      ids,
	})
}

// Delete schedules the deletion of one link and its vectors.
func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(w, r, "Link")
	if !ok {
		return
	}
	if _, ok := getItemOr404(w, r, h.logger, h.mgr, item.KindLink, id, "Link"); !ok {
		return
	}
	if err := h.mgr.DeleteItem(r.Context(), item.KindLink, id); err != nil {
		if apierr.IsNotFound(err) {
			writeAPIError(w, h.logger, apierr.ItemNotFound("Link"))
			return
		}
		writeAPIError(w, h.logger, apierr.ItemDeleteFailed(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Link deleted successfully"})
}

// normalizeLinks unescapes and trims each link and drops blanks and
// duplicates, keeping the first occurrence.
func normalizeLinks(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		if u, err := url.QueryUnescape(l); err == nil {
			l = u
		}
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func validateURL(raw string) *apierr.Error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apierr.InvalidURL(raw)
	}
	return nil
}
