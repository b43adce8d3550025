package api

import (
	"net/http"

	"go.uber.org/zap"
)

// handleCreateClient issues a new API credential. The plaintext key appears
// in this response and nowhere else.
func (d *Dependencies) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: "name is required"})
		return
	}

	client, key, err := d.Clients.CreateClient(r.Context(), req.Name)
	if err != nil {
		d.Logger.Error("create client failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, ClientResp{
		ID:        client.ID,
		Name:      client.Name,
		KeyPrefix: client.KeyPrefix,
		CreatedAt: client.CreatedAt,
		APIKey:    key,
	})
}

func (d *Dependencies) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := d.Clients.ListClients(r.Context())
	if err != nil {
		d.Logger.Error("list clients failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Internal error"})
		return
	}
	out := make([]ClientResp, 0, len(clients))
	for _, c := range clients {
		out = append(out, ClientResp{
			ID:        c.ID,
			Name:      c.Name,
			KeyPrefix: c.KeyPrefix,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
}
