package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"hivegate.org/internal/auth"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Parameters that may carry the credential when no Authorization header is sent.
var credentialParams = []string{"access_token", "code", "refresh_token"}

type identityHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

type paramsKey struct{}

// authenticated resolves the request credential to an identity of one of
// kinds before calling h. The identity and raw token are put on the context.
func (a *API) authenticated(h identityHandler, kinds ...auth.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), paramsKey{}, params)

		raw := credential(r, params)
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, "invalid_token", "an access token is required")
			return
		}
		id, err := a.auth.Authenticate(ctx, raw, kinds...)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		ctx = auth.ContextWithIdentity(ctx, id)
		ctx = auth.ContextWithToken(ctx, raw)
		h(w, r.WithContext(ctx), id)
	})
}

// credential picks the Authorization header, bare or Bearer, then the
// first non-empty credential parameter.
func credential(r *http.Request, params url.Values) string {
	if h := strings.TrimSpace(r.Header.Get(authHeader)); h != "" {
		if len(h) >= len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
			return strings.TrimSpace(h[len(bearer):])
		}
		return h
	}
	for _, name := range credentialParams {
		if v := strings.TrimSpace(params.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// requestParams merges query parameters with string members of a JSON or
// form body. The body is restored so handlers can decode it again.
func requestParams(r *http.Request) (url.Values, error) {
	params := r.URL.Query()
	if r.Body == nil || r.Body == http.NoBody {
		return params, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.New("request body too large")
		}
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, errors.New("malformed form body")
		}
		for k, vs := range form {
			for _, v := range vs {
				params.Add(k, v)
			}
		}
	case "", "application/json":
		var members map[string]json.RawMessage
		if err := json.Unmarshal(raw, &members); err != nil {
			// Non-object bodies carry no parameters; the handler reports them.
			return params, nil
		}
		for k, v := range members {
			var s string
			if json.Unmarshal(v, &s) == nil {
				params.Add(k, s)
			}
		}
	}
	return params, nil
}

func paramsFromContext(ctx context.Context) url.Values {
	if p, ok := ctx.Value(paramsKey{}).(url.Values); ok {
		return p
	}
	return url.Values{}
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenKindMismatch):
		writeError(w, r, http.StatusUnauthorized, "invalid_grant", "The token has invalid role")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "invalid_token", "The token has expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, r, http.StatusUnauthorized, "invalid_token", "The token has been revoked")
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, ledger.ErrNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid_token", "The token is invalid")
	case errors.Is(err, auth.ErrInvalidClient):
		writeError(w, r, http.StatusUnauthorized, "unauthorized_client", "Invalid client credentials")
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, r, http.StatusBadGateway, "server_error", "Request to hived API failed")
	default:
		obs.LogEvent(obs.LevelError, "authentication_failed", map[string]any{"error": err, "path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "server_error", "authentication error")
	}
}
