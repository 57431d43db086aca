package httpapi

import (
	"io"
	"log"
	"net/http"

	json "github.com/goccy/go-json"
)

// writeJSON marshals v before touching the response so an encoding failure
// (NaN outputs, for one) still yields a clean 500. It returns the body written.
func writeJSON(w http.ResponseWriter, status int, v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		logError(err, "encode response")
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return nil
	}
	b = append(b, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
	return b
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func logError(err error, msg string) {
	if zlog != nil {
		zlog.Error().Err(err).Msg(msg)
		return
	}
	log.Printf("%s: %v", msg, err)
}
