// Package notify receives backend-originated transaction status events,
// authenticates them, and relays them to the affected chat user.
package notify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/logx"
	"paybot/pkg/store"
)

// SecretHeader carries the shared secret on inbound webhook calls.
const SecretHeader = "X-BACKEND-SECRET"

// Payload is the backend's notification body.
type Payload struct {
	PlayerUUID      string `json:"playerUuid"`
	TransactionUUID string `json:"transactionUuid"`
	Status          string `json:"status"`
	Message         string `json:"message"`
}

// Observer receives one sample per handled notification. Nil-safe.
type Observer func(result string)

// Handler serves POST /notify.
type Handler struct {
	secret  []byte
	store   store.Store
	sender  chat.Sender
	logger  *logx.Logger
	observe Observer
}

// New builds the webhook handler. secret is the pre-shared value the
// backend must present; sender delivers the resulting chat message.
func New(secret string, st store.Store, sender chat.Sender) *Handler {
	return &Handler{
		secret: []byte(secret),
		store:  st,
		sender: sender,
		logger: logx.NewLogger("notify"),
	}
}

// SetObserver installs a metrics hook.
func (h *Handler) SetObserver(o Observer) { h.observe = o }

func (h *Handler) emit(result string) {
	if h.observe != nil {
		h.observe(result)
	}
}

// authorized compares the presented secret in constant time. Hashing first
// removes the length channel that subtle.ConstantTimeCompare would leak.
func (h *Handler) authorized(presented string) bool {
	if len(h.secret) == 0 {
		return false
	}
	want := sha256.Sum256(h.secret)
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The body is not touched until the caller proves itself.
	if !h.authorized(r.Header.Get(SecretHeader)) {
		h.emit("unauthorized")
		h.logger.Warn("notification with bad secret from %s", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.PlayerUUID == "" {
		h.emit("malformed")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
		return
	}

	id, err := h.store.IdentityByPlayerUUID(r.Context(), p.PlayerUUID)
	if errors.Is(err, store.ErrNotFound) {
		// An unmapped subject is the backend's business, not an error for
		// the caller. Logged and dropped.
		h.emit("unknown_subject")
		h.logger.Info("notification for unmapped subject %s dropped", p.PlayerUUID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		h.emit("error")
		h.logger.Error("identity lookup for %s: %v", p.PlayerUUID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}

	if err := h.sender.Send(id.UserHandle, composeMessage(p)); err != nil {
		// The backend retries notifications itself; report and move on.
		h.emit("delivery_failed")
		h.logger.Error("deliver notification to %s: %v", id.UserHandle, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "delivery failed"})
		return
	}

	h.emit("delivered")
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// composeMessage renders the status update shown to the user.
func composeMessage(p Payload) string {
	var b strings.Builder
	b.WriteString(statusIcon(p.Status))
	b.WriteString(" Transaction update")
	if p.TransactionUUID != "" {
		fmt.Fprintf(&b, "\n\nReference: %s", p.TransactionUUID)
	}
	if p.Status != "" {
		fmt.Fprintf(&b, "\nStatus: %s", p.Status)
	}
	if p.Message != "" {
		fmt.Fprintf(&b, "\n\n%s", p.Message)
	}
	return b.String()
}

func statusIcon(status string) string {
	switch strings.ToUpper(status) {
	case "APPROVED", "COMPLETED", "SUCCESS":
		return "✅"
	case "REJECTED", "FAILED", "CANCELLED":
		return "❌"
	default:
		return "ℹ️"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
