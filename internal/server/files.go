package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/vijoin/tero/internal/media"
	"github.com/vijoin/tero/internal/storage"
	"github.com/vijoin/tero/internal/tools"
	"github.com/vijoin/tero/pkg/models"
)

const (
	maxUploadBytes  = 32 << 20
	defaultFileName = "uploaded-file"
)

// readUpload reads one multipart file into an unsaved File owned by userID.
func readUpload(fh *multipart.FileHeader, userID string) (*models.File, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()
	content, err := io.ReadAll(io.LimitReader(src, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	name := fh.Filename
	if name == "" {
		name = defaultFileName
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(content)
	}
	return &models.File{Name: name, ContentType: contentType, Content: content, UserID: userID}, nil
}

// formFile reads the single upload in the "file" field.
func formFile(r *http.Request, userID string) (*models.File, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		return nil, errors.New("exactly one file is required")
	}
	return readUpload(headers[0], userID)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// prepareAttachment readies a message attachment for the model. Images are
// downscaled; text files get their contents as processed content. Other
// files are kept but not inlined.
func (s *Server) prepareAttachment(r *http.Request, file *models.File) {
	if file.IsImage() {
		img, err := media.DownscaleImage(file.Content, file.ContentType, media.DefaultMaxSide)
		if err != nil {
			s.logger.WarnContext(r.Context(), "keep attachment image as uploaded", "file", file.Name, "error", err)
			return
		}
		file.Content = img.Data
		file.ContentType = img.ContentType
		return
	}
	if utf8.Valid(file.Content) {
		file.ProcessedContent = strings.ReplaceAll(string(file.Content), "\r\n", "\n")
	}
}

// writeToolFileError maps file operation failures to status codes.
func (s *Server) writeToolFileError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		writeError(w, http.StatusNotFound, "Tool not found")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "File not found")
	case errors.Is(err, tools.ErrFilesUnsupported):
		writeError(w, http.StatusBadRequest, "Tool does not support files")
	case tools.IsInvalidConfiguration(err):
		writeError(w, http.StatusBadRequest, "Invalid tool configuration")
	default:
		s.internalError(w, r, op, err)
	}
}

// toolFile returns the file addressed by the fileID path value when it is
// linked to the tool.
func (s *Server) toolFile(w http.ResponseWriter, r *http.Request, agentID, toolID string) (*models.File, bool) {
	files, err := s.stores.ToolFiles.List(r.Context(), agentID, toolID)
	if err != nil {
		s.internalError(w, r, "list tool files", err)
		return nil, false
	}
	fileID := r.PathValue("fileID")
	for _, f := range files {
		if f.ID == fileID {
			return f, true
		}
	}
	writeError(w, http.StatusNotFound, "File not found")
	return nil, false
}

// handleListToolFiles handles GET /api/agents/{agentID}/tools/{toolID}/files.
func (s *Server) handleListToolFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	files, err := s.stores.ToolFiles.List(r.Context(), ag.ID, r.PathValue("toolID"))
	if err != nil {
		s.internalError(w, r, "list tool files", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNilFiles(files))
}

// handleUploadToolFile handles POST /api/agents/{agentID}/tools/{toolID}/files
// with a multipart "file" field.
func (s *Server) handleUploadToolFile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, err := formFile(r, user.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	if err := s.tools.AddFile(r.Context(), ag, user.ID, r.PathValue("toolID"), file); err != nil {
		s.writeToolFileError(w, r, "add tool file", err)
		return
	}
	writeJSON(w, http.StatusCreated, file)
}

// handleUpdateToolFile handles PUT
// /api/agents/{agentID}/tools/{toolID}/files/{fileID}. An empty upload keeps
// the stored contents and only renames the file.
func (s *Server) handleUpdateToolFile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	toolID := r.PathValue("toolID")
	existing, ok := s.toolFile(w, r, ag.ID, toolID)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	upload, err := formFile(r, user.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	existing.Name = upload.Name
	if len(upload.Content) > 0 {
		existing.Content = upload.Content
		existing.ContentType = upload.ContentType
		existing.ProcessedContent = ""
	}
	if err := s.tools.UpdateFile(r.Context(), ag, user.ID, toolID, existing); err != nil {
		s.writeToolFileError(w, r, "update tool file", err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

// handleDeleteToolFile handles DELETE
// /api/agents/{agentID}/tools/{toolID}/files/{fileID}.
func (s *Server) handleDeleteToolFile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	ag, ok := s.loadAgent(w, r, user)
	if !ok {
		return
	}
	toolID := r.PathValue("toolID")
	file, ok := s.toolFile(w, r, ag.ID, toolID)
	if !ok {
		return
	}
	if err := s.tools.RemoveFile(r.Context(), ag, user.ID, toolID, file.ID); err != nil {
		s.writeToolFileError(w, r, "remove tool file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// threadFile returns the file addressed by the fileID path value when one of
// the thread's messages carries it.
func (s *Server) threadFile(w http.ResponseWriter, r *http.Request, user *models.User) (*models.File, bool) {
	thread, ok := s.loadThread(w, r, user)
	if !ok {
		return nil, false
	}
	messages, err := s.stores.Threads.ListMessages(r.Context(), thread.ID)
	if err != nil {
		s.internalError(w, r, "list messages", err)
		return nil, false
	}
	fileID := r.PathValue("fileID")
	for _, m := range messages {
		for _, f := range m.Files {
			if f.ID == fileID {
				return f, true
			}
		}
	}
	writeError(w, http.StatusNotFound, "File not found")
	return nil, false
}

// handleGetThreadFile handles GET /api/threads/{threadID}/files/{fileID}.
func (s *Server) handleGetThreadFile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	file, ok := s.threadFile(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, file)
}

// handleDownloadThreadFile handles
// GET /api/threads/{threadID}/files/{fileID}/content.
func (s *Server) handleDownloadThreadFile(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	file, ok := s.threadFile(w, r, user)
	if !ok {
		return
	}
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Content)
}
