package telegram

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// profileOf extracts the sender identity of an update.
func profileOf(u *tgbotapi.User) chathub.Profile {
	return chathub.Profile{ID: u.ID, FirstName: u.FirstName, Username: u.UserName}
}

// inboundMessage converts a Bot API message into the relay's shape.
func inboundMessage(msg *tgbotapi.Message) models.InboundMessage {
	in := models.InboundMessage{
		ID:      int64(msg.MessageID),
		Caption: msg.Caption,
	}
	if msg.ReplyToMessage != nil {
		in.ReplyToID = int64(msg.ReplyToMessage.MessageID)
	}

	switch {
	case msg.Text != "":
		in.Kind = models.KindText
		in.Text = msg.Text
		in.Entities = fromEntities(msg.Entities)
		return in
	case len(msg.Photo) > 0:
		in.Kind = models.KindPhoto
		in.FileID, _ = largestPhoto(msg)
	case msg.Video != nil:
		in.Kind = models.KindVideo
		in.FileID = msg.Video.FileID
	case msg.Animation != nil:
		in.Kind = models.KindAnimation
		in.FileID = msg.Animation.FileID
	case msg.Voice != nil:
		in.Kind = models.KindVoice
		in.FileID = msg.Voice.FileID
	case msg.Audio != nil:
		in.Kind = models.KindAudio
		in.FileID = msg.Audio.FileID
	case msg.Document != nil:
		in.Kind = models.KindDocument
		in.FileID = msg.Document.FileID
	case msg.Sticker != nil:
		in.Kind = models.KindSticker
		in.FileID = msg.Sticker.FileID
	case msg.VideoNote != nil:
		in.Kind = models.KindVideoNote
		in.FileID = msg.VideoNote.FileID
	default:
		in.Kind = models.KindOther
	}
	in.Entities = fromEntities(msg.CaptionEntities)
	return in
}

// largestPhoto returns the file id of the biggest size of a photo message.
// The Bot API lists sizes in ascending order.
func largestPhoto(msg *tgbotapi.Message) (string, bool) {
	if len(msg.Photo) == 0 {
		return "", false
	}
	return msg.Photo[len(msg.Photo)-1].FileID, true
}

func fromEntities(in []tgbotapi.MessageEntity) []models.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Entity, 0, len(in))
	for _, e := range in {
		out = append(out, models.Entity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		})
	}
	return out
}

func toEntities(in []models.Entity) []tgbotapi.MessageEntity {
	if len(in) == 0 {
		return nil
	}
	out := make([]tgbotapi.MessageEntity, 0, len(in))
	for _, e := range in {
		out = append(out, tgbotapi.MessageEntity{
			Type:     e.Type,
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		})
	}
	return out
}
