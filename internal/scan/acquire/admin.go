package acquire

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/linescan/internal/httputil"
)

// AttachAdminRoutes exposes the session counters under /debug/ on mux.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Scan state", func() any { return s.State().String() })

	debug.Handle("scan", "scan session counters", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	}))

	debug.HandleSilent("scan-cancel", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		s.Cancel()
		w.WriteHeader(http.StatusNoContent)
	}))
}
