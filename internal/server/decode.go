package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/shineum/mailhook/internal/provider"
)

// multipartMemory is how much of a multipart body is kept in memory before
// file parts spill to disk.
const multipartMemory = 32 << 20

// decodeBody reads a webhook body into a field map. JSON, urlencoded and
// multipart forms are accepted; an unknown content type is tried as JSON and
// otherwise yields an empty map.
func decodeBody(w http.ResponseWriter, r *http.Request) (provider.Body, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		return decodeJSONBody(r.Body, true)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("failed to parse form: %w", err)
		}
		return formBody(r.PostForm), nil
	case "multipart/form-data":
		return decodeMultipart(r)
	default:
		return decodeJSONBody(r.Body, false)
	}
}

func decodeJSONBody(rd io.Reader, strict bool) (provider.Body, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	body := provider.Body{}
	if len(bytes.TrimSpace(data)) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(data, &body); err != nil {
		if strict {
			return nil, fmt.Errorf("failed to decode json body: %w", err)
		}
		return provider.Body{}, nil
	}
	return body, nil
}

func decodeMultipart(r *http.Request) (provider.Body, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	body := formBody(r.MultipartForm.Value)

	var attachments []any
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			attachments = append(attachments, map[string]any{
				"filename":    fh.Filename,
				"contentType": fh.Header.Get("Content-Type"),
				"size":        float64(fh.Size),
			})
		}
	}
	if _, set := body["attachments"]; !set && len(attachments) > 0 {
		body["attachments"] = attachments
	}
	return body, nil
}

// formBody keeps the first value of each field.
func formBody(values map[string][]string) provider.Body {
	body := provider.Body{}
	for key, vals := range values {
		if len(vals) > 0 {
			body[key] = vals[0]
		}
	}
	return body
}

// decodeJSON decodes an optional JSON request body into out.
func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
