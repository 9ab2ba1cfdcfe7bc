package httpx

import (
	"net/http"
)

// debugGate hides every debug route in production, before authentication runs.
func (r *Router) debugGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.production {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}
		next(w, req)
	}
}

func (r *Router) handleDebug(w http.ResponseWriter, req *http.Request) error {
	switch req.URL.Path {
	case "/debug/gemini":
		if req.Method != http.MethodGet {
			return errMethodNotAllowed
		}
		if r.gemini == nil {
			return errNotFound
		}
		writeJSON(w, http.StatusOK, r.gemini.Check(req.Context()))
		return nil
	default:
		return errNotFound
	}
}
