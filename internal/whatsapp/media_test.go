package whatsapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestBuildMediaMessage(t *testing.T) {
	cli := newPairedClient()

	msg, kind, err := buildMediaMessage(context.Background(), cli, &Media{Data: pngHeader, FileName: "a.png"}, "look")
	require.NoError(t, err)
	assert.Equal(t, MediaImage, kind)
	assert.Equal(t, "look", msg.GetImageMessage().GetCaption())
	assert.EqualValues(t, len(pngHeader), msg.GetImageMessage().GetFileLength())

	pdf := append([]byte("%PDF-1.7\n"), make([]byte, 32)...)
	msg, kind, err = buildMediaMessage(context.Background(), cli, &Media{Data: pdf, FileName: "invoice.pdf"}, "")
	require.NoError(t, err)
	assert.Equal(t, MediaDocument, kind)
	doc := msg.GetDocumentMessage()
	require.NotNil(t, doc)
	assert.Equal(t, "invoice.pdf", doc.GetFileName())
	assert.Equal(t, "application/pdf", doc.GetMimetype())
	assert.Nil(t, doc.Caption)

	assert.Equal(t, []whatsmeow.MediaType{whatsmeow.MediaImage, whatsmeow.MediaDocument}, cli.uploads)
}

func TestMessageText(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		text string
		kind string
	}{
		{"nil", nil, "", ""},
		{"conversation", &waE2E.Message{Conversation: proto.String("hi")}, "hi", ""},
		{"extended", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted")}}, "quoted", ""},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("pic")}}, "pic", MediaImage},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, "", MediaAudio},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, "", MediaSticker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.text, messageText(tt.msg))
			assert.Equal(t, tt.kind, mediaKind(tt.msg))
		})
	}
}

func TestQRDataURL(t *testing.T) {
	url, err := qrDataURL("2@abc,def,ghi")
	require.NoError(t, err)
	assert.Contains(t, url, "data:image/png;base64,")
}
