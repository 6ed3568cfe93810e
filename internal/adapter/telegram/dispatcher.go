package telegram

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/fairyhunter13/ask-relay/internal/adapter/observability"
	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// ReplyHandler consumes operator replies.
type ReplyHandler interface {
	OnExternalReply(ctx context.Context, replyToMessageID string, reply domain.Reply)
}

type fileDownloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Dispatcher filters updates and forwards operator replies to a ReplyHandler.
type Dispatcher struct {
	chatID  string
	files   fileDownloader
	handler ReplyHandler
}

// NewDispatcher accepts replies only from chatID.
func NewDispatcher(chatID string, files fileDownloader, handler ReplyHandler) *Dispatcher {
	return &Dispatcher{chatID: chatID, files: files, handler: handler}
}

// HandleUpdate processes one update. Anything other than a reply in the
// operator chat is ignored.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u Update) {
	lg := observability.LoggerFromContext(ctx)
	m := u.Message
	if m == nil || m.ReplyToMessage == nil {
		return
	}
	if strconv.FormatInt(m.Chat.ID, 10) != d.chatID {
		lg.Debug("ignoring message from foreign chat", slog.Int64("chat_id", m.Chat.ID))
		return
	}

	reply := domain.Reply{Text: m.Text, Caption: m.Caption}
	if p, ok := largestPhoto(m.Photo); ok {
		img, err := d.files.DownloadFile(ctx, p.FileID)
		if err != nil {
			// Deliver whatever text accompanies the photo.
			lg.Error("photo download failed", slog.Int64("message_id", m.MessageID), slog.Any("error", err))
		} else {
			reply.Image = img
		}
	}
	if reply.Text == "" && reply.Caption == "" && len(reply.Image) == 0 {
		return
	}
	d.handler.OnExternalReply(ctx, strconv.FormatInt(m.ReplyToMessage.MessageID, 10), reply)
}
