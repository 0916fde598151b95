package provider

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shineum/mailhook/internal/mail"
)

// maxResponseSize caps how much of a provider response is read.
const maxResponseSize = 10 << 20

// FetchJSON performs req and decodes a 2xx JSON response into out. Network
// failures come back as *mail.TransportError, unsuccessful or undecodable
// responses as *mail.UpstreamError. A nil out discards the body.
func FetchJSON(client *http.Client, service string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return &mail.TransportError{Service: service, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &mail.TransportError{Service: service, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &mail.UpstreamError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 256),
		}
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &mail.UpstreamError{
			Service:    service,
			StatusCode: resp.StatusCode,
			Message:    "invalid response: " + err.Error(),
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
