package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/platform/httpx"
	"github.com/wirebird/contactsync/internal/services/contacts/phone"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
	contactsync "github.com/wirebird/contactsync/internal/services/contacts/sync"
)

type syncRequest struct {
	PhoneNumbers        []string `json:"phone_numbers"`
	DeviceContactsCount int      `json:"device_contacts_count,omitempty"`
	BatchSize           int      `json:"batch_size,omitempty"`
}

type hashedSyncRequest struct {
	PhoneHashes         []string `json:"phone_hashes"`
	HashingMethod       string   `json:"hashing_method"`
	Timestamp           string   `json:"timestamp"`
	DeviceContactsCount int      `json:"device_contacts_count,omitempty"`
	BatchSize           int      `json:"batch_size,omitempty"`
}

type invalidEntryView struct {
	Entry  string `json:"entry"`
	Reason string `json:"reason"`
}

type syncResponse struct {
	TotalProcessed  int                `json:"total_processed"`
	MatchedContacts int                `json:"matched_contacts"`
	DuplicateCount  int                `json:"duplicate_count"`
	InvalidEntries  []invalidEntryView `json:"invalid_entries,omitempty"`
	Timestamp       string             `json:"timestamp"`
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.guard.CheckSubmission(r.Context(), userID, req.PhoneNumbers); err != nil {
		httpx.WriteError(w, err)
		return
	}
	plan, err := contactsync.PlanFromPhones(req.PhoneNumbers, req.BatchSize)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.runSync(w, r, userID, plan, req.DeviceContactsCount)
}

func (h *Handler) handleSyncHashed(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req hashedSyncRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	submittedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Timestamp))
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeInvalidFormat, "timestamp must be RFC 3339", err))
		return
	}
	if err := h.guard.CheckHashedSubmission(r.Context(), userID, req.PhoneHashes, req.HashingMethod, submittedAt); err != nil {
		httpx.WriteError(w, err)
		return
	}
	plan, err := contactsync.PlanFromDigests(req.PhoneHashes, req.BatchSize)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.runSync(w, r, userID, plan, req.DeviceContactsCount)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, userID string, plan *contactsync.Plan, deviceContacts int) {
	result, err := h.engine.Run(r.Context(), userID, plan, deviceContacts)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	resp := syncResponse{
		TotalProcessed:  result.TotalProcessed,
		MatchedContacts: result.MatchedContacts,
		DuplicateCount:  result.DuplicateCount,
		Timestamp:       result.CompletedAt.UTC().Format(time.RFC3339),
	}
	for _, invalid := range result.Invalid {
		resp.InvalidEntries = append(resp.InvalidEntries, invalidEntryView{Entry: invalid.Raw, Reason: invalid.Reason})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type syncStatusResponse struct {
	Status              string  `json:"status"`
	DeviceContactsCount int     `json:"device_contacts_count"`
	SyncedContactsCount int     `json:"synced_contacts_count"`
	SyncPercentage      float64 `json:"sync_percentage"`
	ErrorMessage        string  `json:"error_message,omitempty"`
	LastSyncAt          string  `json:"last_sync_at,omitempty"`
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	status, err := h.syncs.GetSyncStatus(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "load sync status", err))
		return
	}
	resp := syncStatusResponse{
		Status:              string(status.Status),
		DeviceContactsCount: status.DeviceContactsCount,
		SyncedContactsCount: status.SyncedContactsCount,
		SyncPercentage:      status.SyncPercentage(),
		ErrorMessage:        status.ErrorMessage,
	}
	if status.LastSyncAt != nil {
		resp.LastSyncAt = status.LastSyncAt.UTC().Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type phoneMappingRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type phoneMappingResponse struct {
	PhoneHash string `json:"phone_hash"`
}

// handlePhoneMapping registers the caller's own number in the
// discoverability index so other users' syncs can match it.
func (h *Handler) handlePhoneMapping(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req phoneMappingRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	canonical, err := phone.Canonicalize(req.PhoneNumber)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	hash := phone.Digest(canonical)
	if err := h.identities.ClaimPhoneHash(r.Context(), userID, hash, h.clock()); err != nil {
		if errors.Is(err, storage.ErrAlreadyClaimed) {
			httpx.WriteError(w, apperrors.New(apperrors.CodeHashAlreadyClaimed, "phone number is mapped to another account"))
			return
		}
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "claim phone hash", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, phoneMappingResponse{PhoneHash: hash})
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func (h *Handler) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	profile := storage.Profile{
		UserID:      userID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Email:       strings.TrimSpace(req.Email),
		UpdatedAt:   h.clock(),
	}
	if err := h.profiles.UpsertProfile(r.Context(), profile); err != nil {
		httpx.WriteError(w, apperrors.Wrap(apperrors.CodeStoreUnavailable, "upsert profile", err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
