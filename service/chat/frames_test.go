package chat

import (
	"encoding/json"
	"testing"

	"ChatRelay/module/chat/model"
	"ChatRelay/tools/errs"
)

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/app/chat.sendMessage": RouteChatSend,
		"/app/chat.addUser":     RouteAddUser,
		"/app/chat.leave":       RouteLeave,
		"/app/chat.file":        RouteFile,
		"/app/call.sendMessage": RouteCallSend,
		" chat.send ":           RouteChatSend,
		"call.send":             RouteCallSend,
		"/app/other":            "/app/other",
	}
	for in, want := range cases {
		if got := NormalizeRoute(in); got != want {
			t.Errorf("NormalizeRoute(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"destination":"/app/chat.addUser","body":{"sender":"alice","type":"JOIN"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Destination != "/app/chat.addUser" {
		t.Fatalf("destination = %q", f.Destination)
	}
	ev, err := DecodeBody[model.ChatEvent](f.Body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Sender != "alice" || ev.Type != model.KindJoin {
		t.Fatalf("body = %+v", ev)
	}

	for _, raw := range []string{"", "   ", "not json", `{"body":{}}`, `{"destination":"  "}`} {
		if _, err := ParseFrameJSON([]byte(raw)); !errs.ErrArgs.Is(err) {
			t.Errorf("ParseFrameJSON(%q) err = %v, want ArgsError", raw, err)
		}
	}
}

func TestDecodeBodyWeakFileSize(t *testing.T) {
	ev, err := DecodeBody[model.ChatEvent](json.RawMessage(
		`{"sender":"alice","fileName":"a.pdf","fileSize":"1024","fileData":"QUJD","timestamp":"2024-03-01T10:00:00"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.FileSize != 1024 || ev.FileData != "QUJD" {
		t.Fatalf("decoded %+v", ev)
	}
}

func TestDecodeBodyStrictKeepsRaw(t *testing.T) {
	type env struct {
		Offer json.RawMessage `json:"offer"`
	}
	got, err := DecodeBodyStrict[env](json.RawMessage(`{"offer":{"sdp":"v=0","type":"offer"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Offer) != `{"sdp":"v=0","type":"offer"}` {
		t.Fatalf("offer = %s", got.Offer)
	}
	if _, err := DecodeBodyStrict[env](nil); !errs.ErrArgs.Is(err) {
		t.Fatalf("empty body err = %v", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := UserFrame("/queue/private", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Destination string            `json:"destination"`
		Body        map[string]string `json:"body"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Destination != "/user/queue/private" || out.Body["content"] != "hi" {
		t.Fatalf("frame = %s", data)
	}
}
