package telegram

// Update is the subset of a Bot API update the dispatcher reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is a chat message.
type Message struct {
	MessageID      int64       `json:"message_id"`
	Chat           Chat        `json:"chat"`
	Text           string      `json:"text,omitempty"`
	Caption        string      `json:"caption,omitempty"`
	Photo          []PhotoSize `json:"photo,omitempty"`
	ReplyToMessage *Message    `json:"reply_to_message,omitempty"`
}

// Chat identifies the conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size,omitempty"`
}

// largestPhoto picks the highest resolution, by pixel area then file size.
func largestPhoto(ps []PhotoSize) (PhotoSize, bool) {
	if len(ps) == 0 {
		return PhotoSize{}, false
	}
	best := ps[0]
	for _, p := range ps[1:] {
		pa, ba := p.Width*p.Height, best.Width*best.Height
		if pa > ba || (pa == ba && p.FileSize > best.FileSize) {
			best = p
		}
	}
	return best, true
}
