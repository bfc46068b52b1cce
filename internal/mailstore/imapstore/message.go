package imapstore

import (
	"bytes"
	"errors"
	"io"
	"net"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

// summaryFromBuffer converts a collected fetch buffer to a summary.
func summaryFromBuffer(folderID string, buf *imapclient.FetchMessageBuffer) mailstore.EmailSummary {
	return summaryFields(folderID, buf.UID, buf.Envelope, buf.Flags, buf.RFC822Size)
}

// summaryFields builds an EmailSummary from envelope-level fetch data.
func summaryFields(folderID string, uid imap.UID, envelope *imap.Envelope, flags []imap.Flag, size int64) mailstore.EmailSummary {
	summary := mailstore.EmailSummary{
		ID:         emailID(folderID, uid),
		FolderID:   folderID,
		Importance: mailstore.ImportanceNormal,
		SizeBytes:  size,
	}
	for _, flag := range flags {
		switch flag {
		case imap.FlagSeen:
			summary.IsRead = true
		case imap.FlagFlagged:
			summary.Importance = mailstore.ImportanceHigh
		}
	}
	if envelope == nil {
		return summary
	}

	summary.Subject = envelope.Subject
	summary.ReceivedTime = envelope.Date
	summary.SentTime = envelope.Date
	if len(envelope.From) > 0 {
		summary.SenderName = envelope.From[0].Name
		summary.SenderEmail = envelope.From[0].Addr()
	}
	summary.Recipients = addressList(envelope.To)
	return summary
}

// addressList flattens envelope addresses to bare address strings.
func addressList(addrs []imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}

// parseBody walks the MIME tree of a raw message, returning the first
// text and HTML parts plus attachment metadata. Attachment content is
// discarded; only name, size, and type are kept.
func parseBody(raw []byte) (text, html string, attachments []mailstore.Attachment) {
	if len(raw) == 0 {
		return "", "", nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not parseable as a MIME message; treat the payload as plain
		// text so the caller still gets something readable.
		return string(raw), "", nil
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := header.ContentType()
			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
			if readErr != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				if text == "" {
					text = string(body)
				}
			case "text/html":
				if html == "" {
					html = string(body)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			contentType, _, _ := header.ContentType()
			size, _ := io.Copy(io.Discard, part.Body)
			attachments = append(attachments, mailstore.Attachment{
				Name:      filename,
				SizeBytes: size,
				MimeType:  contentType,
			})
		}
	}
	return text, html, attachments
}

// isNotFound reports whether an IMAP error indicates a missing mailbox.
func isNotFound(err error) bool {
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		return false
	}
	if imapErr.Code == imap.ResponseCodeNonExistent {
		return true
	}
	return imapErr.Type == imap.StatusResponseTypeNo
}

// translate maps transport and server errors onto the store taxonomy.
func translate(op string, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		// The server answered; the connection itself is fine.
		return mailstore.NewError(mailstore.KindPermanent, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return mailstore.NewError(mailstore.KindTimeout, op, err)
		}
		return mailstore.NewError(mailstore.KindTransient, op, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return mailstore.NewError(mailstore.KindUnavailable, op, err)
	}
	return mailstore.NewError(mailstore.KindTransient, op, err)
}
