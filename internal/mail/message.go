package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"time"
)

const (
	exportSubject    = "Playlist export"
	exportText       = "Attached is the export of your playlist."
	exportAttachment = "playlist.json"
)

// buildMessage renders a multipart/mixed message with a short text part and
// body attached as playlist.json
func buildMessage(from, to, messageID, body string, now time.Time) ([]byte, error) {
	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=UTF-8"},
		"Content-Transfer-Encoding": {"7bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(exportText + "\r\n")); err != nil {
		return nil, err
	}

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("application/json; charset=UTF-8; name=%q", exportAttachment)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", exportAttachment)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(attachment, []byte(body)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", exportSubject)
	fmt.Fprintf(&msg, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&msg, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(parts.Bytes())

	return msg.Bytes(), nil
}

// writeBase64Lines wraps encoded output at 76 columns (RFC 2045)
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := min(76, len(encoded))
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
