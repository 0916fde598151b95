package tempmail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailhook/internal/mail"
	"github.com/shineum/mailhook/internal/provider"
)

const backupService = "backup"

// Stats is the downstream consumer's published counters.
type Stats struct {
	TotalAddresses int `json:"total_addresses"`
	TotalMessages  int `json:"total_messages"`
}

// BackupSource reads the JSON files the downstream consumer publishes for
// each mailbox: {api}/messages/{local}.json and
// {api}/message/{local}/{id}.json.
type BackupSource struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewBackupSource creates a BackupSource rooted at baseURL. A nil
// httpClient gets a 5 second timeout.
func NewBackupSource(baseURL string, httpClient *http.Client) *BackupSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &BackupSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}
}

// List returns the published messages for addr.
func (b *BackupSource) List(ctx context.Context, addr mail.Address) ([]mail.Message, error) {
	var resp struct {
		Messages []provider.Body `json:"messages"`
	}
	if err := b.get(ctx, "/messages/"+url.PathEscape(addr.LocalPart)+".json", &resp); err != nil {
		return nil, err
	}

	messages := make([]mail.Message, 0, len(resp.Messages))
	for _, body := range resp.Messages {
		messages = append(messages, *b.toMessage(addr, body))
	}
	return messages, nil
}

// Detail returns one published message.
func (b *BackupSource) Detail(ctx context.Context, addr mail.Address, id string) (*mail.Message, error) {
	var body provider.Body
	path := "/message/" + url.PathEscape(addr.LocalPart) + "/" + url.PathEscape(id) + ".json"
	if err := b.get(ctx, path, &body); err != nil {
		return nil, err
	}
	msg := b.toMessage(addr, body)
	if msg.ID == "" {
		msg.ID = id
	}
	return msg, nil
}

// Stats returns the published counters.
func (b *BackupSource) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := b.get(ctx, "/stats.json", &s)
	return s, err
}

// get appends a cache-busting t parameter, as static hosts cache hard.
func (b *BackupSource) get(ctx context.Context, path string, out any) error {
	u := b.baseURL + path + "?t=" + strconv.FormatInt(b.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build backup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return provider.FetchJSON(b.httpClient, backupService, req, out)
}

// toMessage accepts both the mail_data shape and the older summary shape
// ({id, from, subject, received_at}).
func (b *BackupSource) toMessage(addr mail.Address, body provider.Body) *mail.Message {
	now := b.now()
	kind := mail.Kind(body.String("provider"))
	if kind == "" {
		kind = addr.Provider
	}

	msg := mail.NewMessage(kind, now)
	msg.ID = body.String("id")
	msg.ProviderID = body.String("provider_id")
	msg.From = body.Address("from", "sender")
	msg.To = body.Address("to", "recipient")
	msg.Subject = body.String("subject")
	msg.BodyText = body.String("body_text", "body-plain", "text")
	msg.BodyHTML = body.String("body_html", "body-html", "html")
	msg.Attachments = body.Attachments("attachments")
	msg.Timestamp = body.Time(now, "timestamp", "received_at", "date")
	if msg.To == "" {
		msg.To = addr.Address
	}
	return msg
}
