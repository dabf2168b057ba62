package models

// MediaKind is the content type of a relayed message.
type MediaKind string

const (
	KindText      MediaKind = "text"
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindVoice     MediaKind = "voice"
	KindAudio     MediaKind = "audio"
	KindDocument  MediaKind = "document"
	KindSticker   MediaKind = "sticker"
	KindVideoNote MediaKind = "video_note"
	KindAnimation MediaKind = "animation"
	// KindOther is any content the relay does not model; the transport
	// copies it verbatim.
	KindOther MediaKind = "other"
)

// HasCaption reports whether the kind carries a caption.
func (k MediaKind) HasCaption() bool {
	switch k {
	case KindPhoto, KindVideo, KindVoice, KindAudio, KindDocument, KindAnimation:
		return true
	}
	return false
}

// Entity is a formatting span inside a text or caption.
type Entity struct {
	Type     string `json:"type"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
	URL      string `json:"url,omitempty"`
	Language string `json:"language,omitempty"`
}

// InboundMessage is a message received from a participant, independent of
// the transport it came from. Edited messages use the same shape.
type InboundMessage struct {
	ID       int64
	Kind     MediaKind
	Text     string
	FileID   string
	Caption  string
	Entities []Entity
	// ReplyToID is the id of the message this one replies to, 0 if none.
	ReplyToID int64
}

// Content returns the text for text messages and the caption otherwise.
func (m InboundMessage) Content() string {
	if m.Kind == KindText {
		return m.Text
	}
	return m.Caption
}

// OutboundMessage is what the relay asks the transport to deliver.
type OutboundMessage struct {
	Kind     MediaKind
	Text     string
	FileID   string
	Caption  string
	Entities []Entity
	// ReplyTo is the destination-side message id to thread under, 0 if none.
	ReplyTo int64
	// CopyFrom addresses the original message for KindOther.
	CopyFrom MessageRef
}
