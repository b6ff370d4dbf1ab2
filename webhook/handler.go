package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/tagcache"
)

const (
	msgUnauthorized   = "Unauthorized"
	msgInvalidEntryID = "Missing or invalid entry ID"
	msgUnknownProfile = "Unknown revalidation profile"
	msgTooLarge       = "Request body too large"
	msgNotAllowed     = "Method Not Allowed"
	msgFailed         = "Revalidation failed"
)

type response struct {
	Revalidated bool   `json:"revalidated"`
	EntryID     string `json:"entryId"`
}

// ServeHTTP handles POST requests whose JSON body names the changed entry at
// sys.id. An optional profile comes from the "profile" query parameter or
// body field.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeMessage(w, http.StatusMethodNotAllowed, msgNotAllowed)
		return
	}
	// authenticate before touching the body
	if !g.authorized(r.Header.Get(g.header)) {
		writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeMessage(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		writeMessage(w, http.StatusBadRequest, msgInvalidEntryID)
		return
	}
	if !gjson.ValidBytes(body) {
		writeMessage(w, http.StatusBadRequest, msgInvalidEntryID)
		return
	}
	id := gjson.GetBytes(body, "sys.id")
	if id.Type != gjson.String {
		writeMessage(w, http.StatusBadRequest, msgInvalidEntryID)
		return
	}
	profile := r.URL.Query().Get("profile")
	if profile == "" {
		if p := gjson.GetBytes(body, "profile"); p.Exists() {
			if p.Type != gjson.String {
				writeMessage(w, http.StatusBadRequest, msgUnknownProfile)
				return
			}
			profile = p.Str
		}
	}

	// a disconnecting client must not abort a half-applied invalidation
	ctx := context.WithoutCancel(r.Context())
	if _, err := g.invalidate(ctx, id.Str, profile); err != nil {
		switch {
		case errors.Is(err, tagcache.ErrUnknownProfile):
			writeMessage(w, http.StatusBadRequest, msgUnknownProfile)
		case errors.Is(err, ErrInvalidRequest):
			writeMessage(w, http.StatusBadRequest, msgInvalidEntryID)
		default:
			g.log.Error("revalidation failed", tagcache.Fields{"tag": id.Str, "err": err})
			writeMessage(w, http.StatusInternalServerError, msgFailed)
		}
		return
	}
	writeJSON(w, http.StatusOK, response{Revalidated: true, EntryID: id.Str})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
