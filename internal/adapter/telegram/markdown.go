package telegram

import (
	"strings"

	"github.com/fairyhunter13/ask-relay/internal/domain"
)

// MarkdownV2 reserved characters, backslash included.
var markdownV2Replacer = func() *strings.Replacer {
	const reserved = "\\_*[]()~`>#+-=|{}.!"
	pairs := make([]string, 0, len(reserved)*2)
	for _, r := range reserved {
		pairs = append(pairs, string(r), "\\"+string(r))
	}
	return strings.NewReplacer(pairs...)
}()

// EscapeMarkdownV2 escapes every reserved character so text renders literally.
func EscapeMarkdownV2(s string) string {
	return markdownV2Replacer.Replace(s)
}

// Format renders msg as MarkdownV2. Caller text is always escaped.
func Format(msg domain.OutboundMessage) string {
	body := EscapeMarkdownV2(msg.Text)
	switch msg.Kind {
	case domain.KindEscalation:
		return "❓ *Câu hỏi chưa có câu trả lời*\n\n" + body + "\n\n_Trả lời tin nhắn này để gửi phản hồi cho người hỏi\\._"
	case domain.KindDirect:
		return "💬 *Tin nhắn trực tiếp*\n\n" + body + "\n\n_Trả lời tin nhắn này để phản hồi\\._"
	case domain.KindAlert:
		return "⚠️ *Cảnh báo*\n\n" + body
	default:
		return body
	}
}
