package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/h2non/filetype"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
	MediaSticker  = "sticker"
)

// Media is a file about to be uploaded.
type Media struct {
	Data     []byte
	FileName string
	MimeType string
}

func newHTTPClient() *resty.Client {
	return resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetTimeout(30 * time.Second).
		SetRetryCount(1)
}

// resolveFile maps file onto the media directory. Relative names are taken
// from the directory; anything that resolves outside of it, symlinks
// included, is reported as missing.
func (m *Manager) resolveFile(file string) (string, error) {
	root, err := filepath.Abs(m.app.Config().GetMediaDir())
	if err != nil {
		return "", err
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return "", ErrFileNotFound
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(root, file)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(file))
	if err != nil {
		return "", ErrFileNotFound
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrFileNotFound
	}
	return resolved, nil
}

func (m *Manager) loadFile(file string) (*Media, error) {
	resolved, err := m.resolveFile(file)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrFileNotFound
	}
	if limit := m.cfg().MediaMaxBytes; limit > 0 && info.Size() > limit {
		return nil, ErrMediaTooLarge
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	return &Media{Data: data, FileName: filepath.Base(resolved)}, nil
}

func (m *Manager) fetchMedia(ctx context.Context, rawURL string) (*Media, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: unsupported url %q", ErrMediaFetch, rawURL)
	}
	resp, err := m.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaFetch, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %s", ErrMediaFetch, rawURL, resp.Status())
	}

	limit := m.cfg().MediaMaxBytes
	var reader io.Reader = body
	if limit > 0 {
		if resp.RawResponse.ContentLength > limit {
			return nil, ErrMediaTooLarge
		}
		reader = io.LimitReader(body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaFetch, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrMediaTooLarge
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = "file"
	}
	return &Media{Data: data, FileName: name, MimeType: resp.Header().Get("Content-Type")}, nil
}

// buildMediaMessage uploads media and wraps it in the message type matching
// its content. Audio messages carry no caption.
func buildMediaMessage(ctx context.Context, cli Client, media *Media, caption string) (*waE2E.Message, string, error) {
	data := media.Data
	mimeType := media.MimeType
	if kind, _ := filetype.Match(data); kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var mediaType whatsmeow.MediaType
	var kind string
	switch {
	case filetype.IsImage(data):
		mediaType, kind = whatsmeow.MediaImage, MediaImage
	case filetype.IsVideo(data):
		mediaType, kind = whatsmeow.MediaVideo, MediaVideo
	case filetype.IsAudio(data):
		mediaType, kind = whatsmeow.MediaAudio, MediaAudio
	default:
		mediaType, kind = whatsmeow.MediaDocument, MediaDocument
	}

	up, err := cli.Upload(ctx, data, mediaType)
	if err != nil {
		return nil, "", fmt.Errorf("upload %s: %w", kind, err)
	}
	length := uint64(len(data))

	msg := &waE2E.Message{}
	switch kind {
	case MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       optional(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}
	case MediaVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			Caption:       optional(caption),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}
	case MediaAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Caption:       optional(caption),
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(length),
		}
	}
	return msg, kind, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

// messageText returns the text or caption of an incoming message.
func messageText(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func mediaKind(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.GetImageMessage() != nil:
		return MediaImage
	case msg.GetVideoMessage() != nil:
		return MediaVideo
	case msg.GetAudioMessage() != nil:
		return MediaAudio
	case msg.GetDocumentMessage() != nil:
		return MediaDocument
	case msg.GetStickerMessage() != nil:
		return MediaSticker
	}
	return ""
}
