package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"recollector/api/dto"
	"recollector/api/middleware"
	"recollector/api/models"
	"recollector/api/service"
	"recollector/api/validation"
	"recollector/worker/pool"
)

const (
	multipartMemory = 32 << 20
	maxEmailBody    = 4 << 10
)

type TaskService interface {
	CreateTask(ctx context.Context, traceID string, req *dto.CreateTaskRequest) (*dto.GenerateResponse, *pool.Handle, error)
	GetTaskStatus(ctx context.Context, taskID string) (json.RawMessage, error)
	DeleteTask(ctx context.Context, traceID, taskID string) (*dto.DeleteResponse, error)
	AttachRecipient(ctx context.Context, taskID, email string) (*models.Record, error)
}

type TaskHandler struct {
	service     TaskService
	uploadDir   string
	maxFileSize int64
	logger      *zap.Logger
}

func NewTaskHandler(service TaskService, uploadDir string, maxFileSize int64, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:     service,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Generate accepts an image upload and starts a generation task.
func (h *TaskHandler) Generate(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.handleError(w, validation.ErrFileTooLarge.Error(), err, traceID, http.StatusBadRequest)
			return
		}
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, "File is required", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if _, err := validation.ValidateUpload(header, file, h.maxFileSize); err != nil {
		h.handleError(w, "Invalid file: "+err.Error(), err, traceID, http.StatusBadRequest)
		return
	}

	opts, err := validation.ParseOptions(r.FormValue)
	if err != nil {
		h.handleError(w, err.Error(), err, traceID, http.StatusBadRequest)
		return
	}

	taskID := uuid.New().String()
	filePath := filepath.Join(h.uploadDir, taskID+"_"+sanitizeFilename(header.Filename))

	if err := saveUpload(filePath, file); err != nil {
		h.handleError(w, "Failed to save file", err, traceID, http.StatusInternalServerError)
		return
	}

	resp, _, err := h.service.CreateTask(r.Context(), traceID, &dto.CreateTaskRequest{
		TaskID:           taskID,
		OriginalFilename: header.Filename,
		FilePath:         filePath,
		Options:          opts,
	})
	if err != nil {
		os.Remove(filePath)
		h.handleError(w, "Failed to create task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Generation task accepted",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.String("filename", header.Filename),
	)

	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	raw, err := h.service.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task status", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, raw)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	resp, err := h.service.DeleteTask(r.Context(), traceID, taskID)
	if err != nil {
		var delErr *service.DeletionError
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
		case errors.As(err, &delErr):
			h.logger.Error("Task files could not be fully removed",
				zap.String("trace_id", traceID),
				zap.String("task_id", taskID),
				zap.Error(err),
			)
			h.respondJSON(w, http.StatusInternalServerError, dto.DeleteErrorResponse{
				Message:      fmt.Sprintf("Task %s deleted, but some files could not be removed.", taskID),
				Errors:       delErr.Messages(),
				DeletedFiles: delErr.Removed,
				TraceID:      traceID,
			})
		default:
			h.handleError(w, "Failed to delete task", err, traceID, http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info("Task deleted",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.Strings("files", resp.DeletedFiles),
	)

	h.respondJSON(w, http.StatusOK, resp)
}

// AttachEmail registers a recipient for the completion notice.
func (h *TaskHandler) AttachEmail(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID, ok := h.taskID(w, r, traceID)
	if !ok {
		return
	}

	var req dto.AttachEmailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEmailBody)).Decode(&req); err != nil {
		h.handleError(w, "Invalid request body", err, traceID, http.StatusBadRequest)
		return
	}

	rec, err := h.service.AttachRecipient(r.Context(), taskID, req.Email)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrInvalidEmail):
			h.handleError(w, err.Error(), err, traceID, http.StatusBadRequest)
		case errors.Is(err, service.ErrTaskNotFound):
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
		case errors.Is(err, service.ErrTaskFinished):
			h.handleError(w, "Task already finished", err, traceID, http.StatusConflict)
		default:
			h.handleError(w, "Failed to attach email", err, traceID, http.StatusInternalServerError)
		}
		return
	}

	h.respondJSON(w, http.StatusOK, rec)
}

// taskID extracts the path id. Anything that is not a UUID cannot name a task.
func (h *TaskHandler) taskID(w http.ResponseWriter, r *http.Request, traceID string) (string, bool) {
	taskID := r.PathValue("task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
		return "", false
	}
	return taskID, true
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func sanitizeFilename(filename string) string {
	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return "upload"
	}
	return base
}

func (h *TaskHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	log := h.logger.Error
	if status < http.StatusInternalServerError {
		log = h.logger.Warn
	}
	log(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
