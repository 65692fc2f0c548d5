package server

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pixvoice/pixvoice/messages"
)

const (
	authTokenEndpoint = "https://generativelanguage.googleapis.com/v1alpha/auth_tokens"
	tokenTTL          = 30 * time.Minute
	tokenStartWindow  = 2 * time.Minute
)

// handleToken mints a single-use ephemeral credential so a client can open a
// live session directly against the upstream when the relay path is
// unavailable. The long-lived API key never leaves the server.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().UTC()
	body, err := messages.Marshal(map[string]any{
		"uses":                 1,
		"expireTime":           now.Add(tokenTTL).Format(time.RFC3339),
		"newSessionExpireTime": now.Add(tokenStartWindow).Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	url := fmt.Sprintf("%s?key=%s", authTokenEndpoint, s.config.GeminiAPIKey)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("❌ Token mint failed: %v", err)
		http.Error(w, `{"error":"token service unavailable"}`, http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		http.Error(w, `{"error":"token service unavailable"}`, http.StatusBadGateway)
		return
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ Token mint rejected: status %d", resp.StatusCode)
		http.Error(w, `{"error":"token mint rejected"}`, http.StatusBadGateway)
		return
	}

	// Response carries {"name":"auth_tokens/..."}; pass it through verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
