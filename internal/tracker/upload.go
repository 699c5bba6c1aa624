package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rudransh-shrivastava/peer-tracker/internal/catalog"
	"github.com/rudransh-shrivastava/peer-tracker/internal/protocol"
)

// UploadField is the multipart field carrying the uploaded file.
const UploadField = "torrent"

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	status, result := s.upload(r)
	writeJSON(w, status, result)
}

// upload answers 200 with success false for every rejected upload, except a
// body over the size limit, which gets 413.
func (s *Server) upload(r *http.Request) (status int, result protocol.UploadResult) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Recovered from panic in upload", "panic", p)
			status = http.StatusOK
			result = protocol.UploadResult{Error: fmt.Sprintf("Upload error: %v", p)}
		}
	}()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return http.StatusRequestEntityTooLarge, uploadError(fmt.Errorf("file exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, http.ErrMissingFile):
			return http.StatusOK, protocol.UploadResult{Error: "No file uploaded"}
		default:
			return http.StatusOK, uploadError(err)
		}
	}
	defer file.Close()

	filename := clientFilename(header)
	if filename == "" {
		return http.StatusOK, protocol.UploadResult{Error: "No file selected"}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return http.StatusOK, uploadError(err)
	}

	if err := s.storeUpload(catalog.ContentID(filename), data); err != nil {
		s.logger.Error("Failed to store upload", "filename", filename, "error", err)
		return http.StatusOK, uploadError(err)
	}

	d, msg := s.handler.AddContent(context.WithoutCancel(r.Context()), filename, int64(len(data)))
	return http.StatusOK, protocol.UploadResult{
		Success:  true,
		Message:  msg,
		Filename: d.Filename,
		FileID:   d.InfoHash,
	}
}

// clientFilename is the filename exactly as the client sent it. The multipart
// reader strips directories from FileHeader.Filename, which would change the
// content id of a name like "dir/movie.mp4".
func clientFilename(header *multipart.FileHeader) string {
	_, params, err := mime.ParseMediaType(header.Header.Get("Content-Disposition"))
	if err != nil || params["filename"] == "" {
		return header.Filename
	}
	return params["filename"]
}

func (s *Server) storeUpload(id string, data []byte) error {
	if s.config.UploadDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}
	path := filepath.Join(s.config.UploadDir, id+".torrent")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func uploadError(err error) protocol.UploadResult {
	return protocol.UploadResult{Error: "Upload error: " + err.Error()}
}
