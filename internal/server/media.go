package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Chloe7243/Errandhub/internal/media"
)

// registerMedia accepts an image either as the raw request body or as the
// "file" part of a multipart form.
func registerMedia(r chi.Router, basePath string, up media.Uploader) {
	r.Post(path.Join(basePath, "media"), func(w http.ResponseWriter, req *http.Request) {
		p, authErr := principalFromRequest(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if up.Store == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "media_unavailable", "media storage is not configured", nil))
			return
		}
		limit := up.MaxBytes
		if limit <= 0 {
			limit = media.DefaultMaxBytes
		}
		// Room for multipart framing on top of the image itself.
		req.Body = http.MaxBytesReader(w, req.Body, limit+64<<10)

		body, contentType, err := uploadPart(req)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil))
			return
		}
		defer body.Close()
		m, err := up.Upload(req.Context(), p.UserID, contentType, body)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(m)
	})
}

func uploadPart(req *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return req.Body, mediaType, nil
	}
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", errFileMissing
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == "file" {
			return part, part.Header.Get("Content-Type"), nil
		}
		part.Close()
	}
}

type uploadError string

func (e uploadError) Error() string { return string(e) }

const errFileMissing = uploadError(`multipart upload needs a "file" part`)
