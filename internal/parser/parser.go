// Package parser turns raw RFC 5322 messages into canonical mail records. It
// serves SMTP ingest and Mailgun's body-mime field.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/mail"
)

var wordDecoder = new(mime.WordDecoder)

// Parse reads a raw message. To holds the first header recipient; SMTP
// callers override it with the envelope recipient. Provider is left unset.
func Parse(raw []byte) (*mail.Message, error) {
	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	now := time.Now()
	if date, err := msg.Header.Date(); err == nil {
		now = date
	}
	result := mail.NewMessage("", now)

	result.Headers = make(map[string]string, len(msg.Header))
	for key, values := range msg.Header {
		if len(values) > 0 {
			result.Headers[key] = values[0]
		}
	}

	result.From = firstAddress(msg.Header.Get("From"))
	result.To = firstAddress(msg.Header.Get("To"))
	result.Subject = decodeWord(msg.Header.Get("Subject"))
	result.ProviderID = strings.Trim(msg.Header.Get("Message-Id"), "<> ")

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.BodyText = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeContent(msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		result.BodyHTML = string(body)
	} else {
		result.BodyText = string(body)
	}
	return result, nil
}

func parseMultipart(body io.Reader, boundary string, result *mail.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if params["boundary"] == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, params["boundary"], result); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		// multipart.Part already strips quoted-printable.
		content, err := decodeContent(part.Header.Get("Content-Transfer-Encoding"), part)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		filename := partFilename(part, params)
		isAttachment := strings.HasPrefix(strings.ToLower(disposition), "attachment") || filename != ""

		switch {
		case isAttachment:
			if filename == "" {
				filename = fallbackFilename(mediaType)
			}
			result.Attachments = append(result.Attachments, mail.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Size:        int64(len(content)),
				Content:     content,
			})
		case mediaType == "text/plain":
			if result.BodyText == "" {
				result.BodyText = string(content)
			}
		case mediaType == "text/html":
			if result.BodyHTML == "" {
				result.BodyHTML = string(content)
			}
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}
}

func decodeContent(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

func partFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return decodeWord(fn)
	}
	return decodeWord(params["name"])
}

func fallbackFilename(mediaType string) string {
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

// firstAddress returns the bare address of the first entry in an address
// list header, or the trimmed header when it does not parse.
func firstAddress(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	list, err := netmail.ParseAddressList(raw)
	if err != nil || len(list) == 0 {
		first, _, _ := strings.Cut(raw, ",")
		return strings.TrimSpace(first)
	}
	return list[0].Address
}

func decodeWord(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
