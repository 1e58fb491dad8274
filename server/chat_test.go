package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func sendChat(t *testing.T, s *Server, c *Client, roomID, kind, value string) {
	t.Helper()
	d := ChatSendData{RoomID: roomID, Kind: kind}
	switch kind {
	case ChatKindText:
		d.Text = value
	case ChatKindEmoji:
		d.Emoji = value
	case ChatKindGif:
		d.GifID = value
	}
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal chat payload: %v", err)
	}
	s.handleMessage(c, ClientMessage{Type: MsgChatSend, Data: raw})
}

func TestChatDeliveredToBothSeats(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	collect(c0)
	collect(c1)

	// Chat is open from the first moment of the room, setup included.
	sendChat(t, s, c0, room.ID, ChatKindText, "gl hf")

	for _, c := range []*Client{c0, c1} {
		got := nextOfType(t, c, MsgChatMessage).Data.(ChatMessageData)
		if got.RoomID != room.ID {
			t.Errorf("chat roomId = %s, expected %s", got.RoomID, room.ID)
		}
		m := got.Message
		if m.SenderID != "p0" || m.Nickname != "Alice" || m.Text != "gl hf" || m.Kind != ChatKindText {
			t.Errorf("chat message = %+v", m)
		}
		if m.SentAt <= 0 {
			t.Error("chat message has no timestamp")
		}
	}
}

func TestChatTextRules(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	collect(c0)
	collect(c1)

	for _, text := range []string{"", "   ", "\x00\x1b\n"} {
		err := room.PostChat(c0.ID, ChatSendData{Kind: ChatKindText, Text: text})
		if codeOf(t, err) != CodeChatInvalidPayload {
			t.Errorf("PostChat(%q) = %v, expected %s", text, err, CodeChatInvalidPayload)
		}
	}

	// Control characters are stripped, not rejected.
	if err := room.PostChat(c0.ID, ChatSendData{Kind: ChatKindText, Text: "well\x00 played\n"}); err != nil {
		t.Fatalf("PostChat with control chars: %v", err)
	}
	if got := nextOfType(t, c1, MsgChatMessage).Data.(ChatMessageData); got.Message.Text != "well played" {
		t.Errorf("delivered text = %q, expected control characters stripped", got.Message.Text)
	}

	// The limit counts runes, not bytes, and oversized input is rejected
	// rather than truncated.
	longest := strings.Repeat("é", chatTextMax)
	if err := room.PostChat(c0.ID, ChatSendData{Kind: ChatKindText, Text: longest}); err != nil {
		t.Errorf("PostChat at the length limit: %v", err)
	}
	err := room.PostChat(c0.ID, ChatSendData{Kind: ChatKindText, Text: longest + "é"})
	if codeOf(t, err) != CodeChatInvalidPayload {
		t.Errorf("PostChat over the length limit = %v, expected %s", err, CodeChatInvalidPayload)
	}
}

func TestChatReactionsAreAllowListed(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)

	cases := []struct {
		name string
		d    ChatSendData
		ok   bool
	}{
		{"listed emoji", ChatSendData{Kind: ChatKindEmoji, Emoji: "🔥"}, true},
		{"unlisted emoji", ChatSendData{Kind: ChatKindEmoji, Emoji: "💀"}, false},
		{"listed gif", ChatSendData{Kind: ChatKindGif, GifID: "nice-shot"}, true},
		{"unlisted gif", ChatSendData{Kind: ChatKindGif, GifID: "dab"}, false},
		{"unknown kind", ChatSendData{Kind: "sticker", Text: "hey"}, false},
	}
	for _, tc := range cases {
		err := room.PostChat(c0.ID, tc.d)
		if tc.ok && err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
		if !tc.ok && codeOf(t, err) != CodeChatInvalidPayload {
			t.Errorf("%s = %v, expected %s", tc.name, err, CodeChatInvalidPayload)
		}
	}
}

func TestChatUnavailableInBotRooms(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	room := newTestBotRoom(t, s, c0)
	collect(c0)

	sendChat(t, s, c0, room.ID, ChatKindText, "anyone there?")
	e := errorWithCode(t, c0, CodeChatNotAllowed)
	if e.Message == "" {
		t.Error("bot-room rejection carries no message")
	}
	room.mu.Lock()
	n := len(room.chat)
	room.mu.Unlock()
	if n != 0 {
		t.Errorf("bot room stored %d chat messages", n)
	}
}

func TestChatStaysOpenBrieflyAfterGameOver(t *testing.T) {
	s := newTestServer(t)
	s.cfg.ChatTTL = 60 * time.Millisecond
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	placeBoth(t, room, c0, c1)

	if err := room.Cancel(c0.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := room.PostChat(c1.ID, ChatSendData{Kind: ChatKindGif, GifID: "gg"}); err != nil {
		t.Errorf("chat inside the post-game window: %v", err)
	}

	time.Sleep(s.cfg.ChatTTL + 50*time.Millisecond)
	err := room.PostChat(c1.ID, ChatSendData{Kind: ChatKindText, Text: "still there?"})
	if codeOf(t, err) != CodeChatNotAllowed {
		t.Errorf("chat after the window = %v, expected %s", err, CodeChatNotAllowed)
	}
}

func TestChatHistoryDropsOldest(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)

	total := chatHistoryMax + 5
	for i := 0; i < total; i++ {
		if err := room.PostChat(c0.ID, ChatSendData{Kind: ChatKindText, Text: chatLabel(i)}); err != nil {
			t.Fatalf("PostChat #%d: %v", i, err)
		}
	}

	room.mu.Lock()
	n := len(room.chat)
	first, last := room.chat[0].Text, room.chat[n-1].Text
	room.mu.Unlock()
	if n != chatHistoryMax {
		t.Fatalf("history holds %d messages, expected %d", n, chatHistoryMax)
	}
	if first != chatLabel(5) || last != chatLabel(total-1) {
		t.Errorf("history spans %s..%s, expected %s..%s", first, last, chatLabel(5), chatLabel(total-1))
	}
}

func TestChatRateLimitAnswersOnChatChannel(t *testing.T) {
	s := newTestServer(t)
	c0 := newTestClient(s, "conn0")
	c1 := newTestClient(s, "conn1")
	room := newTestRoom(t, s, c0, c1)
	collect(c0)
	collect(c1)

	budget := actionLimits[KindChatSend].Max
	for i := 0; i <= budget; i++ {
		sendChat(t, s, c0, room.ID, ChatKindText, chatLabel(i))
	}

	var delivered, limited, gameErrors int
	for _, f := range collect(c0) {
		switch f.Type {
		case MsgChatMessage:
			delivered++
		case MsgChatError:
			limited++
			e := f.Data.(ErrorData)
			if e.Code != CodeChatRateLimited {
				t.Errorf("chat:error code = %s, expected %s", e.Code, CodeChatRateLimited)
			}
			if e.RemainingMs <= 0 {
				t.Error("rate limit rejection carries no retry hint")
			}
		case MsgGameError:
			gameErrors++
		}
	}
	if delivered != budget || limited != 1 {
		t.Errorf("delivered=%d limited=%d, expected %d and 1", delivered, limited, budget)
	}
	if gameErrors != 0 {
		t.Errorf("%d game:error frames, chat throttling must stay on the chat channel", gameErrors)
	}
}

func chatLabel(i int) string {
	return fmt.Sprintf("message-%d", i)
}
