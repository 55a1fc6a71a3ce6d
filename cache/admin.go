package cache

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"cachemesh.app/pkg/middleware"
	"cachemesh.app/pkg/utils"
)

// adminServer is a small plain net/http debug surface separate from
// Encore's own API routing — it exists to give pkg/middleware's
// RequestLogger and TokenBucket an actual call site, the way the
// teacher's own services never quite got around to wiring them in.
// Encore services route through //encore:api annotations, so this
// listens on its own loopback port and is meant for operators, not
// clients.
type adminServer struct {
	svc     *Service
	limiter *middleware.TokenBucket
	server  *http.Server
}

func newAdminServer(svc *Service) *adminServer {
	a := &adminServer{
		svc:     svc,
		limiter: middleware.NewTokenBucket(20, 40),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/stats", a.handleStats)
	mux.HandleFunc("/debug/locks", a.handleLocks)

	limited := middleware.RateLimitMiddleware(mux, a.limiter, middleware.KeyByIP)
	logged := middleware.RequestLogger(limited)

	a.server = &http.Server{Handler: logged}
	return a
}

func (a *adminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := a.svc.store.Statistics()
	data, err := utils.MarshalJSON(stats)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pretty, _ := utils.PrettyJSON(data)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(pretty)
}

func (a *adminServer) handleLocks(w http.ResponseWriter, r *http.Request) {
	body := map[string]int{"liveKeyLocks": a.svc.store.locks.Size()}
	data, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// Serve starts listening on addr. Not called automatically — operators
// opt in by calling Service.ServeAdmin from their own main/init wiring,
// since an Encore app doesn't need a second listener in most
// deployments.
func (a *adminServer) Serve(addr string) error {
	a.server.Addr = addr
	return a.server.ListenAndServe()
}

func (a *adminServer) Stop() {
	_ = a.server.Shutdown(context.Background())
}

// ServeAdmin starts the debug HTTP surface in the background.
func (s *Service) ServeAdmin(addr string) {
	go func() {
		if err := s.admin.Serve(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("cache: admin server stopped: %v", err)
		}
	}()
}
