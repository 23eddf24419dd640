package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
)

// Messages GET /conversations/{id}/messages?limit=&before_id=
//
// The backend answers either a bare array or {"messages": [...], "total": N};
// both are accepted. The page is returned ascending by id with Total -1 when
// the backend did not report one.
func (c *Client) Messages(ctx context.Context, conversationID int64, limit int, beforeID int64) (entity.MessagePage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeID > 0 {
		q.Set("before_id", strconv.FormatInt(beforeID, 10))
	}

	var raw json.RawMessage
	if err := c.getJSON(ctx, idPath("/conversations/%d/messages", conversationID), q, &raw); err != nil {
		return entity.MessagePage{}, err
	}
	page, err := decodeMessagePage(raw)
	if err != nil {
		return entity.MessagePage{}, fmt.Errorf("decode messages: %w", err)
	}
	return page, nil
}

func decodeMessagePage(raw json.RawMessage) (entity.MessagePage, error) {
	page := entity.MessagePage{Total: -1}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &page.Messages); err != nil {
			return page, err
		}
	default:
		var envelope struct {
			Messages []entity.Message `json:"messages"`
			Total    *int             `json:"total"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return page, err
		}
		page.Messages = envelope.Messages
		if envelope.Total != nil {
			page.Total = *envelope.Total
		}
	}
	sort.SliceStable(page.Messages, func(i, j int) bool {
		return page.Messages[i].ID < page.Messages[j].ID
	})
	return page, nil
}

// SendMessage POST /conversations/{id}/messages
func (c *Client) SendMessage(ctx context.Context, conversationID int64, msg entity.NewMessage) (*entity.SendResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if msg.MessageType == "" {
		msg.MessageType = entity.MessageText
	}
	var out entity.SendResult
	if err := c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/messages", conversationID), msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload is one media file to send into a conversation.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadMedia POST /conversations/{id}/upload (multipart field "file").
//
// The upload policy is checked first; a rejected file never reaches the
// network.
func (c *Client) UploadMedia(ctx context.Context, conversationID int64, up Upload) (*entity.SendResult, error) {
	if err := c.policy.Validate(up.ContentType, up.Size); err != nil {
		return nil, err
	}
	if up.Body == nil {
		return nil, apperrors.NewUploadRejectedError("file is empty")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(up.Filename)))
	header.Set("Content-Type", up.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart: %w", err)
	}
	// one byte past the limit is enough to catch a Size that lied
	n, err := io.Copy(part, io.LimitReader(up.Body, c.policy.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := c.policy.Validate(up.ContentType, n); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var out entity.SendResult
	err = c.do(ctx, http.MethodPost, c.URL(idPath("/conversations/%d/upload", conversationID), nil), &buf, mw.FormDataContentType(), &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile opens path, detects its media type and uploads it.
func (c *Client) UploadFile(ctx context.Context, conversationID int64, path string) (*entity.SendResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	return c.UploadMedia(ctx, conversationID, Upload{
		Filename:    info.Name(),
		ContentType: service.DetectContentType(info.Name(), head[:n]),
		Size:        info.Size(),
		Body:        f,
	})
}

// FetchMedia downloads a resolved media URL (absolute, or a path on the
// backend such as /api/messaging/media/line/...) into w.
func (c *Client) FetchMedia(ctx context.Context, mediaURL string, w io.Writer) error {
	target := mediaURL
	if u, err := url.Parse(mediaURL); err == nil && !u.IsAbs() {
		target = c.baseURL + "/" + trimLeadingSlash(mediaURL)
	}
	_, err := c.download(ctx, target, w)
	return err
}

// MediaPrefix is the prefix handed to entity.Message.MediaURL.
func (c *Client) MediaPrefix() string {
	return c.prefix
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
