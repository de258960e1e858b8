package httpapi

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/metropoly-server/internal/engine"
	"github.com/DoyleJ11/metropoly-server/internal/hub"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, err := h.Create(r.Context())
		if err != nil {
			log.Error("create room failed", zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			RoomID string `json:"roomId"`
		}{RoomID: id})
	}
}

func ListRooms(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.List(r.Context())
		if err != nil {
			log.Error("list rooms failed", zap.Error(err))
			http.Error(w, "failed to list rooms", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func GetRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "roomID")
		rm, err := h.Get(r.Context(), id)
		if errors.Is(err, engine.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("get room failed", zap.String("room", id), zap.Error(err))
			http.Error(w, "failed to get room", http.StatusInternalServerError)
			return
		}

		v, err := rm.View(r.Context())
		if err != nil {
			// Reaped between lookup and view.
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, v.Snapshot())
	}
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}{Status: "online", Time: time.Now().UTC().Format(time.RFC3339)})
}

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>Metropoly server</title></head>
<body>
<h1>Metropoly server is online</h1>
<p>Up since {{.Started}} ({{.Uptime}})</p>
<p>Open rooms: {{len .Rooms}}</p>
{{- if .Rooms}}
<ul>
{{- range .Rooms}}
<li>{{.ID}}: {{.PlayerCount}} player(s)</li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`))

// Status renders a small HTML page for people poking the server in a browser.
func Status(h *hub.Hub, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := h.List(r.Context())
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = statusPage.Execute(w, map[string]any{
			"Started": started.UTC().Format(time.RFC3339),
			"Uptime":  time.Since(started).Round(time.Second).String(),
			"Rooms":   rooms,
		})
	}
}
