// Package httpapi exposes the contacts service over a JSON HTTP API. All
// routes under /v1 require a verified session; the authenticated user id is
// the only identity the handlers trust.
package httpapi

import (
	"net/http"
	"time"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/platform/httpx"
	"github.com/wirebird/contactsync/internal/platform/pagination"
	"github.com/wirebird/contactsync/internal/platform/requestctx"
	"github.com/wirebird/contactsync/internal/services/contacts/guard"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
	contactsync "github.com/wirebird/contactsync/internal/services/contacts/sync"
)

var (
	listPageSizes   = pagination.PageSizeConfig{Default: 50, Max: 100}
	searchPageSizes = pagination.PageSizeConfig{Default: 20, Max: 50}
)

// Handler serves the contacts JSON API.
type Handler struct {
	contacts   storage.ContactStore
	identities storage.PhoneIdentityStore
	syncs      storage.SyncStatusStore
	profiles   storage.ProfileStore
	engine     *contactsync.Engine
	guard      *guard.Guard
	clock      func() time.Time
}

// NewHandler wires the API to its stores, engine, and guard.
func NewHandler(
	contacts storage.ContactStore,
	identities storage.PhoneIdentityStore,
	syncs storage.SyncStatusStore,
	profiles storage.ProfileStore,
	engine *contactsync.Engine,
	g *guard.Guard,
	clock func() time.Time,
) *Handler {
	if clock == nil {
		clock = time.Now
	}
	return &Handler{
		contacts:   contacts,
		identities: identities,
		syncs:      syncs,
		profiles:   profiles,
		engine:     engine,
		guard:      g,
		clock:      clock,
	}
}

// Routes registers all API routes on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/contacts/sync", h.handleSync)
	mux.HandleFunc("POST /v1/contacts/sync/hashed", h.handleSyncHashed)
	mux.HandleFunc("GET /v1/contacts/sync/status", h.handleSyncStatus)
	mux.HandleFunc("GET /v1/contacts", h.handleListContacts)
	mux.HandleFunc("GET /v1/contacts/favorites", h.handleListFavorites)
	mux.HandleFunc("GET /v1/contacts/search", h.handleSearch)
	mux.HandleFunc("POST /v1/contacts/{id}/favorite/toggle", h.handleToggleFavorite)
	mux.HandleFunc("POST /v1/contacts/interaction", h.handleInteraction)
	mux.HandleFunc("GET /v1/contacts/stats", h.handleStats)
	mux.HandleFunc("POST /v1/contacts/phone-mapping", h.handlePhoneMapping)
	mux.HandleFunc("PUT /v1/profile", h.handleUpsertProfile)
	return mux
}

// userID resolves the authenticated caller. Handlers behind the auth
// middleware always find one; a missing id means the route was mounted
// without it.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := requestctx.UserIDFromContext(r.Context())
	if userID == "" {
		httpx.WriteError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
		return "", false
	}
	return userID, true
}

// contactView is the wire form of a contact.
type contactView struct {
	ID                string `json:"id"`
	PhoneHash         string `json:"phone_hash"`
	LinkedUserID      string `json:"linked_user_id,omitempty"`
	IsFavorite        bool   `json:"is_favorite"`
	LastInteractionAt string `json:"last_interaction_at,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

func toContactView(c storage.Contact) contactView {
	view := contactView{
		ID:           c.ID,
		PhoneHash:    c.PhoneHash,
		LinkedUserID: c.LinkedUserID,
		IsFavorite:   c.IsFavorite,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if c.LastInteractionAt != nil {
		view.LastInteractionAt = c.LastInteractionAt.UTC().Format(time.RFC3339)
	}
	return view
}

func toContactViews(contacts []storage.Contact) []contactView {
	views := make([]contactView, len(contacts))
	for i, c := range contacts {
		views[i] = toContactView(c)
	}
	return views
}
