package handlers

import (
	"net/http"

	"recollector/api/dto"
)

func (h *TaskHandler) Root(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, dto.MessageResponse{Message: "AI 3D Model Generator API is running."})
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
