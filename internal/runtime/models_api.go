package runtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/voxkit/voxd/internal/models"
)

type modelListResponse struct {
	Models []models.Model `json:"models"`
	Dir    string         `json:"dir"`
}

type modelDeleteResponse struct {
	Model      string `json:"model"`
	Deleted    bool   `json:"deleted"`
	FreedBytes int64  `json:"freed_bytes"`
}

func handleModelList(mgr *models.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		list, err := mgr.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(modelListResponse{Models: list, Dir: mgr.Dir()})
	}
}

// handleModel serves /v1/models/{name}: GET reports status, POST downloads,
// DELETE removes the cached file.
func handleModel(mgr *models.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimPrefix(req.URL.Path, "/v1/models/")
		if name == "" || strings.Contains(name, "/") {
			http.NotFound(w, req)
			return
		}

		switch req.Method {
		case http.MethodGet:
			status, err := mgr.Status(name)
			if err != nil {
				writeModelError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(status)

		case http.MethodPost:
			status, err := mgr.Download(req.Context(), name)
			if err != nil {
				writeModelError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(status)

		case http.MethodDelete:
			freed, err := mgr.Delete(name)
			if err != nil {
				writeModelError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(modelDeleteResponse{Model: name, Deleted: true, FreedBytes: freed})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func writeModelError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, models.ErrUnknownModel) || errors.Is(err, models.ErrNotDownloaded) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
