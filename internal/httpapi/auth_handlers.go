package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"hivegate.org/internal/audit"
	"hivegate.org/internal/auth"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/obs"
	"hivegate.org/internal/ops"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Username     string `json:"username"`
}

type meResponse struct {
	User         string          `json:"user"`
	ID           string          `json:"_id"`
	Name         string          `json:"name"`
	Account      *ledger.Account `json:"account"`
	Scope        []string        `json:"scope"`
	UserMetadata map[string]any  `json:"user_metadata"`
}

// handleToken trades a code or refresh token for a new pair. The app's
// client secret is checked when it has one.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	raw := credential(r, params)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, "invalid_grant", "a code or refresh token is required")
		return
	}

	pair, err := a.auth.Exchange(r.Context(), raw, params.Get("client_secret"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	id := pair.Access.Identity
	ctx := auth.ContextWithIdentity(r.Context(), id)
	obs.ObserveTokenIssued(string(auth.KindAccess))
	obs.ObserveTokenIssued(string(auth.KindRefresh))
	obs.LogEvent(obs.LevelInfo, fmt.Sprintf("Issue tokens for user @%s for @%s app.", id.User, id.App), map[string]any{
		"request_id": audit.RequestIDFromContext(ctx),
		"node":       a.nodeAddress(),
	})
	_ = audit.LogEvent(ctx, audit.TokenExchanged, map[string]any{
		"access_id":  id.TokenID,
		"refresh_id": pair.Refresh.Identity.TokenID,
		"scope":      id.Scope.Strings(),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
		ExpiresIn:    pair.Access.ExpiresIn(a.auth.Now()),
		Username:     id.User,
	})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := a.auth.Revoke(id); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.TokenRevoked, map[string]any{
		"token_id":   id.TokenID,
		"expires_at": id.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleAuthorize issues a code, or an access token directly, to the app
// a verified login was signed for.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	params := paramsFromContext(r.Context())
	clientID := strings.TrimSpace(params.Get("client_id"))
	if clientID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}
	if clientID != id.App {
		writeError(w, r, http.StatusUnauthorized, "unauthorized_client", "The login was not signed for @"+clientID)
		return
	}

	kind := auth.KindCode
	switch rt := strings.TrimSpace(params.Get("response_type")); rt {
	case "", "code":
	case "token":
		kind = auth.KindAccess
	default:
		writeError(w, r, http.StatusBadRequest, "unsupported_response_type", "response_type must be code or token")
		return
	}

	issued, err := a.auth.Issue(r.Context(), clientID, id.User, kind)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		obs.LogEvent(obs.LevelError, "token_issue_failed", map[string]any{"error": err, "app": clientID})
		writeError(w, r, http.StatusInternalServerError, "server_error", "token issuance failed")
		return
	}
	obs.ObserveTokenIssued(string(kind))
	_ = audit.LogEvent(r.Context(), audit.TokenIssued, map[string]any{
		"kind":     string(kind),
		"token_id": issued.Identity.TokenID,
		"scope":    issued.Identity.Scope.Strings(),
	})

	if kind == auth.KindCode {
		writeJSON(w, http.StatusOK, map[string]any{"code": issued.Token})
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: issued.Token,
		ExpiresIn:   issued.ExpiresIn(a.auth.Now()),
		Username:    id.User,
	})
}

// handleMe echoes the identity with the user's account record.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	accounts, err := a.node.GetAccounts(r.Context(), []string{id.User})
	if err != nil {
		obs.LogEvent(obs.LevelError, fmt.Sprintf("Get account @%s failed", id.User), map[string]any{
			"request_id": audit.RequestIDFromContext(r.Context()),
			"node":       a.nodeAddress(),
			"error":      err,
		})
		writeError(w, r, http.StatusNotImplemented, "server_error", "Request to hived API failed")
		return
	}
	var account *ledger.Account
	for i := range accounts {
		if accounts[i].Name == id.User {
			account = &accounts[i]
			break
		}
	}

	writeJSON(w, http.StatusOK, meResponse{
		User:         id.User,
		ID:           id.User,
		Name:         id.User,
		Account:      account,
		Scope:        scopeNames(a.gate.EffectiveScope(id)),
		UserMetadata: userMetadata(account),
	})
}

// userMetadata prefers posting_json_metadata when it carries a versioned
// profile and otherwise falls back to json_metadata.
func userMetadata(acc *ledger.Account) map[string]any {
	if acc == nil {
		return nil
	}
	var meta map[string]any
	if acc.PostingJSONMetadata != "" {
		if err := json.Unmarshal([]byte(acc.PostingJSONMetadata), &meta); err != nil || !hasProfileVersion(meta) {
			meta = map[string]any{}
		}
	}
	if acc.JSONMetadata != "" && (meta == nil || meta["profile"] == nil) {
		meta = nil
		if err := json.Unmarshal([]byte(acc.JSONMetadata), &meta); err != nil || meta == nil {
			meta = map[string]any{}
		}
	}
	return meta
}

func hasProfileVersion(meta map[string]any) bool {
	profile, ok := meta["profile"].(map[string]any)
	if !ok {
		return false
	}
	v, ok := profile["version"]
	return ok && v != nil && v != "" && v != false && v != float64(0)
}

func scopeNames(s ops.Scope) []string {
	out := s.Strings()
	if out == nil {
		out = []string{}
	}
	return out
}
