// Package ses implements a Sink that forwards inbound messages to a fixed
// mailbox through AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	netmail "net/mail"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailhook/internal/mail"
)

// Config holds the settings for a Forwarder.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	ForwardTo       string
}

// SendEmailAPI is the SES v2 SendEmail operation.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Forwarder relays each message to forwardTo, tagged with its mailbox.
type Forwarder struct {
	sender    string
	forwardTo string
	client    SendEmailAPI
}

// New creates a Forwarder backed by the default AWS credential chain, or by
// static keys when both are set.
func New(ctx context.Context, cfg Config) (*Forwarder, error) {
	if cfg.ForwardTo == "" {
		return nil, fmt.Errorf("ses sink requires a forward_to address")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, cfg.ForwardTo, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Forwarder with a custom client.
func NewWithClient(sender, forwardTo string, client SendEmailAPI) *Forwarder {
	return &Forwarder{sender: sender, forwardTo: forwardTo, client: client}
}

// Notify sends one SES request. Messages carrying attachment bytes go out
// as raw MIME; everything else uses the simple format.
func (f *Forwarder) Notify(ctx context.Context, addressKey string, msg *mail.Message) error {
	var input *sesv2.SendEmailInput
	if hasContent(msg.Attachments) {
		raw, err := buildRawMessage(f.sender, f.forwardTo, addressKey, msg)
		if err != nil {
			return fmt.Errorf("failed to build raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			Content: &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}
	} else {
		input = buildSimpleInput(f.sender, f.forwardTo, addressKey, msg)
	}

	out, err := f.client.SendEmail(ctx, input)
	if err != nil {
		return &mail.UpstreamError{Service: "ses", Message: err.Error()}
	}

	slog.Debug("forwarded inbound mail via SES",
		"address", addressKey,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// Name returns the sink name.
func (f *Forwarder) Name() string {
	return "ses"
}

func forwardSubject(addressKey, subject string) string {
	return fmt.Sprintf("[%s] %s", addressKey, subject)
}

func hasContent(atts []mail.Attachment) bool {
	for _, att := range atts {
		if len(att.Content) > 0 {
			return true
		}
	}
	return false
}

func buildSimpleInput(sender, forwardTo, addressKey string, msg *mail.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.BodyHTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.BodyHTML), Charset: aws.String("UTF-8")}
	}
	if msg.BodyText != "" || msg.BodyHTML == "" {
		body.Text = &types.Content{Data: aws.String(msg.BodyText), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination:      &types.Destination{ToAddresses: []string{forwardTo}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(forwardSubject(addressKey, msg.Subject)),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
	if replyTo, ok := replyToAddress(msg.From); ok {
		input.ReplyToAddresses = []string{replyTo}
	}
	return input
}

// replyToAddress reformats from as a single RFC 5322 address. Values that do
// not parse as exactly one address are dropped.
func replyToAddress(from string) (string, bool) {
	if from == "" {
		return "", false
	}
	addr, err := netmail.ParseAddress(from)
	if err != nil {
		slog.Debug("dropping unparseable reply-to", "from", from, "error", err)
		return "", false
	}
	if addr.Name == "" {
		return addr.Address, true
	}
	return addr.String(), true
}

// headerValue folds CR and LF out of a value bound for a header line.
func headerValue(value string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(value)
}

func buildRawMessage(sender, forwardTo, addressKey string, msg *mail.Message) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", sender)
	fmt.Fprintf(&buf, "To: %s\r\n", forwardTo)
	if replyTo, ok := replyToAddress(msg.From); ok {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo)
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", forwardSubject(addressKey, msg.Subject)))
	fmt.Fprintf(&buf, "X-Mailhook-Provider: %s\r\n", headerValue(string(msg.Provider)))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	if msg.BodyHTML != "" {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	}
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := part.Write([]byte(msg.Body())); err != nil {
		return nil, fmt.Errorf("failed to write body part: %w", err)
	}

	for _, att := range msg.Attachments {
		if len(att.Content) == 0 {
			continue
		}
		contentType := "application/octet-stream"
		if mediaType, params, err := mime.ParseMediaType(att.ContentType); err == nil {
			if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
				contentType = formatted
			}
		}

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", contentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks wraps base64 output at 76 characters (RFC 2045).
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	lines := make([]string, 0, len(encoded)/76+1)
	for len(encoded) > 76 {
		lines = append(lines, encoded[:76])
		encoded = encoded[76:]
	}
	lines = append(lines, encoded)
	return strings.Join(lines, "\r\n")
}
