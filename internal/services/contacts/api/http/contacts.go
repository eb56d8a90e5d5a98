package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/platform/httpx"
	"github.com/wirebird/contactsync/internal/platform/pagination"
	"github.com/wirebird/contactsync/internal/platform/textfold"
	"github.com/wirebird/contactsync/internal/services/contacts/filter"
	"github.com/wirebird/contactsync/internal/services/contacts/phone"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

const (
	minSearchTermLen = 2
	maxSearchTermLen = 50
)

type contactPageResponse struct {
	Contacts []contactView `json:"contacts"`
	HasMore  bool          `json:"has_more"`
}

func (h *Handler) handleListContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()

	cond, err := filter.ParseListFilter(query.Get("filter"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	opts := storage.ListOptions{
		FavoritesOnly: query.Get("favorites") == "true",
		Filter:        cond,
		Limit:         pagination.ClampPageSize(queryInt(query.Get("limit")), listPageSizes),
		Offset:        pagination.ClampOffset(queryInt(query.Get("offset"))),
	}

	page, err := h.contacts.ListContacts(r.Context(), userID, opts)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list contacts", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contactPageResponse{
		Contacts: toContactViews(page.Contacts),
		HasMore:  page.HasMore,
	})
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	favorites, err := h.contacts.ListFavorites(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "list favorites", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]contactView{"contacts": toContactViews(favorites)})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	term := strings.TrimSpace(query.Get("q"))
	if len(term) < minSearchTermLen || len(term) > maxSearchTermLen {
		httpx.WriteError(w, apperrors.New(apperrors.CodeInvalidSearchTerm, "search term must be between 2 and 50 characters"))
		return
	}
	limit := pagination.ClampPageSize(queryInt(query.Get("limit")), searchPageSizes)
	offset := pagination.ClampOffset(queryInt(query.Get("offset")))

	var page storage.ContactPage
	var err error
	if looksLikePhoneNumber(term) {
		canonical, canonErr := phone.Canonicalize(term)
		if canonErr != nil {
			// Phone-shaped junk matches nothing rather than erroring.
			httpx.WriteJSON(w, http.StatusOK, contactPageResponse{Contacts: []contactView{}})
			return
		}
		page, err = h.contacts.SearchByHash(r.Context(), userID, phone.Digest(canonical), limit, offset)
	} else {
		page, err = h.contacts.SearchByName(r.Context(), userID, textfold.Fold(term), limit, offset)
	}
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "search contacts", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, contactPageResponse{
		Contacts: toContactViews(page.Contacts),
		HasMore:  page.HasMore,
	})
}

type toggleFavoriteResponse struct {
	ID         string `json:"id"`
	IsFavorite bool   `json:"is_favorite"`
}

func (h *Handler) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	contactID := r.PathValue("id")
	favorite, err := h.contacts.ToggleFavorite(r.Context(), userID, contactID, h.clock())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.WriteError(w, apperrors.New(apperrors.CodeNotFound, "contact not found"))
			return
		}
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "toggle favorite", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toggleFavoriteResponse{ID: contactID, IsFavorite: favorite})
}

type interactionRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// handleInteraction stamps the interaction time on the contact matching the
// submitted number. An unknown number is a normal no-op, reported as
// success=false.
func (h *Handler) handleInteraction(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req interactionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	canonical, err := phone.Canonicalize(req.PhoneNumber)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	found, err := h.contacts.RecordInteraction(r.Context(), userID, phone.Digest(canonical), h.clock())
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "record interaction", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": found})
}

type statsResponse struct {
	TotalContacts    int    `json:"total_contacts"`
	LinkedContacts   int    `json:"linked_contacts"`
	FavoriteContacts int    `json:"favorite_contacts"`
	UnlinkedContacts int    `json:"unlinked_contacts"`
	LastSyncAt       string `json:"last_sync_at,omitempty"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	stats, err := h.contacts.GetContactStats(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load contact stats", err))
		return
	}
	resp := statsResponse{
		TotalContacts:    stats.TotalContacts,
		LinkedContacts:   stats.LinkedContacts,
		FavoriteContacts: stats.FavoriteContacts,
		UnlinkedContacts: stats.UnlinkedContacts,
	}
	if stats.LastSyncAt != nil {
		resp.LastSyncAt = stats.LastSyncAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// looksLikePhoneNumber reports whether a search term is made of phone
// formatting characters only.
func looksLikePhoneNumber(term string) bool {
	hasDigit := false
	for _, r := range term {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ' || r == '.':
		default:
			return false
		}
	}
	return hasDigit
}

func queryInt(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
