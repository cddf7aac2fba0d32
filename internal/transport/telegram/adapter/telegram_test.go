package adapter

import (
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "certnotify/internal/transport"
	"certnotify/pkg/logx"
)

func TestToUpdate(t *testing.T) {
	t.Parallel()
	m := &tele.Message{
		ID:       7,
		ThreadID: 3,
		Text:     "/scanner list",
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "ops"},
	}
	up, ok := toUpdate(m)
	if !ok {
		t.Fatal("toUpdate rejected a text message")
	}
	want := kit.Message{ID: 7, ChatID: -100, ThreadID: 3, FromID: 42, FromUsername: "ops", Text: "/scanner list", IsGroup: true}
	if up.Kind != kit.UpdateMessage || *up.Message != want {
		t.Fatalf("toUpdate = %+v, want %+v", *up.Message, want)
	}

	if _, ok := toUpdate(&tele.Message{Text: "x"}); ok {
		t.Fatal("toUpdate accepted a message without chat")
	}
	up, ok = toUpdate(&tele.Message{Text: "x", Chat: &tele.Chat{ID: 1, Type: tele.ChatPrivate}})
	if !ok || up.Message.FromID != 0 || up.Message.IsGroup {
		t.Fatalf("anonymous private message = %+v %v", up.Message, ok)
	}
}

func TestCheckLength(t *testing.T) {
	t.Parallel()
	if err := checkLength(strings.Repeat("証", kit.MaxTextRunes)); err != nil {
		t.Fatalf("checkLength at limit = %v", err)
	}
	if err := checkLength(strings.Repeat("x", kit.MaxTextRunes+1)); !errors.Is(err, kit.ErrTextTooLong) {
		t.Fatalf("checkLength over limit = %v, want ErrTextTooLong", err)
	}
}

func TestSendOptions(t *testing.T) {
	t.Parallel()
	got := sendOptions(&kit.SendOptions{ParseMode: kit.ParseModeMarkdown, DisablePreview: true}, 9)
	if got.ParseMode != tele.ModeMarkdown || !got.DisableWebPagePreview || got.ThreadID != 9 {
		t.Fatalf("sendOptions = %+v", got)
	}
	if got := sendOptions(nil, 0); got.ParseMode != "" {
		t.Fatalf("sendOptions(nil) = %+v", got)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("New accepted an empty token")
	}
}
