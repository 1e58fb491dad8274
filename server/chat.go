package server

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	chatTextMax    = 240
	chatHistoryMax = 80
)

// Chat message kinds.
const (
	ChatKindText  = "text"
	ChatKindEmoji = "emoji"
	ChatKindGif   = "gif"
)

// Reactions are allow-listed; anything outside the list is rejected.
var chatEmoji = map[string]bool{
	"👍": true,
	"👎": true,
	"😄": true,
	"😱": true,
	"😭": true,
	"🔥": true,
	"💥": true,
	"🫡": true,
}

var chatGifs = map[string]bool{
	"gg":            true,
	"nice-shot":     true,
	"oops":          true,
	"thinking":      true,
	"victory-dance": true,
}

// PostChat validates one chat:send against room policy and broadcasts the
// accepted message to both seats. Chat is PvP only and stays open for a
// bounded tail after the game ends.
func (r *Room) PostChat(connID string, d ChatSendData) error {
	return r.guard("chat", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		idx := r.slotByConnLocked(connID)
		if idx < 0 {
			return errCode(CodeChatRoomMismatch, "You are not in this game")
		}
		if r.VsBot {
			return errCode(CodeChatNotAllowed, "Chat is not available in bot games")
		}
		if r.phase == PhaseOver && time.Since(r.overAt) > r.server.cfg.ChatTTL {
			return errCode(CodeChatNotAllowed, "Chat is closed for this game")
		}

		sl := r.slots[idx]
		msg := ChatMessage{
			Kind:     d.Kind,
			SenderID: sl.PlayerID,
			Nickname: sl.Nickname,
			SentAt:   time.Now().UnixMilli(),
		}
		switch d.Kind {
		case ChatKindText:
			text := cleanChatText(d.Text)
			if text == "" {
				return errFault(CodeChatInvalidPayload, "Empty chat message")
			}
			if utf8.RuneCountInString(text) > chatTextMax {
				return errFault(CodeChatInvalidPayload, "Chat message is too long")
			}
			msg.Text = text
		case ChatKindEmoji:
			if !chatEmoji[d.Emoji] {
				return errFault(CodeChatInvalidPayload, "Unknown emoji")
			}
			msg.Emoji = d.Emoji
		case ChatKindGif:
			if !chatGifs[d.GifID] {
				return errFault(CodeChatInvalidPayload, "Unknown gif")
			}
			msg.GifID = d.GifID
		default:
			return errFault(CodeChatInvalidPayload, "Unknown chat kind")
		}

		r.appendChatLocked(msg)
		r.broadcastLocked(MsgChatMessage, ChatMessageData{RoomID: r.ID, Message: msg})
		return nil
	})
}

func (r *Room) appendChatLocked(m ChatMessage) {
	if len(r.chat) >= chatHistoryMax {
		n := copy(r.chat, r.chat[len(r.chat)-chatHistoryMax+1:])
		r.chat = r.chat[:n]
	}
	r.chat = append(r.chat, m)
}

// cleanChatText strips control characters and surrounding whitespace.
// Length is checked by the caller: oversized messages are rejected, never
// silently truncated.
func cleanChatText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
