package graph

import (
	"encoding/base64"
	"fmt"

	"github.com/shineum/mailhook/internal/mail"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string            `json:"subject"`
	Body         messageBody       `json:"body"`
	ToRecipients []recipient       `json:"toRecipients"`
	ReplyTo      []recipient       `json:"replyTo,omitempty"`
	Attachments  []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildSendMailRequest forwards msg to forwardTo. Only attachments with
// bytes are carried; URL-only attachments are listed in the body instead.
func buildSendMailRequest(forwardTo, addressKey string, msg *mail.Message) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.Body()}
	if msg.BodyHTML != "" {
		body.ContentType = "html"
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if len(att.Content) == 0 {
			if att.URL != "" {
				body.Content += linkLine(body.ContentType, att)
			}
			continue
		}
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject:      fmt.Sprintf("[%s] %s", addressKey, msg.Subject),
			Body:         body,
			ToRecipients: []recipient{{EmailAddress: emailAddress{Address: forwardTo}}},
			Attachments:  attachments,
		},
	}
	if msg.From != "" {
		req.Message.ReplyTo = []recipient{{EmailAddress: emailAddress{Address: msg.From}}}
	}
	return req
}

func linkLine(contentType string, att mail.Attachment) string {
	if contentType == "html" {
		return fmt.Sprintf(`<p><a href="%s">%s</a></p>`, att.URL, att.Filename)
	}
	return fmt.Sprintf("\n%s: %s", att.Filename, att.URL)
}
