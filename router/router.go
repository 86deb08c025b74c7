package router

import (
	"database/sql"
	"net/http"
	"os"
	"strconv"

	draftHandler "draftkeep/internal/draft"
	"draftkeep/internal/draft/ledger"
	"draftkeep/internal/draft/repository"
	"draftkeep/internal/draft/service"
	"draftkeep/middleware"
	"draftkeep/socket"
)

func Setup(db *sql.DB, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	// WebSocket: advisory fan-out of draft updates and lock events to the
	// owner's other connected sessions.
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Context().Value(middleware.UserIDKey).(string)
		socket.ServeWs(hub, w, r, ownerID)
	})
	mux.Handle("/ws", middleware.AuthMiddleware(wsHandler))

	// REST API
	repo := repository.NewDraftRepository(db)
	ldg := ledger.New(db)
	if n, err := strconv.Atoi(os.Getenv("SNAPSHOT_AUTO_CAP")); err == nil && n > 0 {
		ldg.AutoCap = n
	}
	svc := service.NewDraftService(repo, ldg, hub)
	h := draftHandler.NewDraftHandler(svc)
	auth := middleware.AuthMiddleware

	mux.Handle("/api/drafts/push", auth(http.HandlerFunc(h.Push)))
	mux.Handle("/api/drafts/get", auth(http.HandlerFunc(h.Get)))
	mux.Handle("/api/drafts/latest", auth(http.HandlerFunc(h.Latest)))
	mux.Handle("/api/drafts/manual", auth(http.HandlerFunc(h.ListManual)))
	mux.Handle("/api/drafts/discard", auth(http.HandlerFunc(h.Discard)))
	mux.Handle("/api/drafts/promote", auth(http.HandlerFunc(h.Promote)))
	mux.Handle("/api/drafts/publish", auth(http.HandlerFunc(h.Publish)))
	mux.Handle("/api/drafts/history", auth(http.HandlerFunc(h.History)))
	mux.Handle("/api/drafts/history/restore", auth(http.HandlerFunc(h.Restore)))

	return middleware.CORSMiddleware(mux)
}
