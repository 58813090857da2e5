package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"ChatRelay/module/chat/model"
	"ChatRelay/module/presence"
	"ChatRelay/service/delivery"

	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*Router, *delivery.Recorder, *presence.Set) {
	t.Helper()
	reg := presence.NewSet()
	rec := delivery.NewRecorder()
	r := NewRouter(reg, rec,
		WithLogger(zap.NewNop()),
		WithClock(func() time.Time { return fixedNow }),
	)
	return r, rec, reg
}

func join(t *testing.T, r *Router, rec *delivery.Recorder, users ...string) {
	t.Helper()
	for _, u := range users {
		if oc := r.AddUser(context.Background(), u); oc != delivery.Delivered {
			t.Fatalf("AddUser(%q) = %v", u, oc)
		}
	}
	rec.Reset()
}

func eventOf(t *testing.T, d delivery.Delivery) model.ChatEvent {
	t.Helper()
	ev, ok := d.Value.(model.ChatEvent)
	if !ok {
		t.Fatalf("delivered value is %T, want model.ChatEvent", d.Value)
	}
	return ev
}

func rosterNames(t *testing.T, d delivery.Delivery) []string {
	t.Helper()
	ev := eventOf(t, d)
	if ev.Type != model.KindUserUpdate || ev.Sender != model.SystemSender {
		t.Fatalf("unexpected roster event: %+v", ev)
	}
	if ev.Content == "" {
		return nil
	}
	names := strings.Split(ev.Content, ",")
	sort.Strings(names)
	return names
}

func TestAddUserBroadcastsJoinAndRoster(t *testing.T) {
	r, rec, reg := newTestRouter(t)
	ctx := context.Background()

	if oc := r.AddUser(ctx, "alice"); oc != delivery.Delivered {
		t.Fatalf("AddUser = %v", oc)
	}
	if ok, _ := reg.Contains(ctx, "alice"); !ok {
		t.Fatal("alice should be present after join")
	}

	pub := rec.OnTopic(delivery.TopicPublic)
	if len(pub) != 1 {
		t.Fatalf("want 1 join broadcast, got %d", len(pub))
	}
	joinEv := eventOf(t, pub[0])
	if joinEv.Type != model.KindJoin || joinEv.Sender != "alice" || joinEv.Content != "alice joined the chat" {
		t.Fatalf("unexpected join event: %+v", joinEv)
	}
	roster := rec.OnTopic(delivery.TopicRoster)
	if len(roster) != 1 {
		t.Fatalf("want 1 roster broadcast, got %d", len(roster))
	}
	if got := rosterNames(t, roster[0]); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("roster = %v", got)
	}
	if len(rec.All()) != 2 {
		t.Fatalf("want exactly 2 deliveries, got %d", len(rec.All()))
	}
}

func TestAddUserIdempotent(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	ctx := context.Background()

	r.AddUser(ctx, "alice")
	if oc := r.AddUser(ctx, "alice"); oc != delivery.Unchanged {
		t.Fatalf("second AddUser = %v, want unchanged", oc)
	}
	joins := 0
	for _, d := range rec.OnTopic(delivery.TopicPublic) {
		if eventOf(t, d).Type == model.KindJoin {
			joins++
		}
	}
	if joins != 1 {
		t.Fatalf("want exactly one join broadcast, got %d", joins)
	}
	if n := len(rec.OnTopic(delivery.TopicRoster)); n != 1 {
		t.Fatalf("want one roster broadcast, got %d", n)
	}
}

func TestAddUserRejectsBlank(t *testing.T) {
	r, rec, reg := newTestRouter(t)
	for _, name := range []string{"", "   "} {
		if oc := r.AddUser(context.Background(), name); oc != delivery.DroppedInvalid {
			t.Fatalf("AddUser(%q) = %v", name, oc)
		}
	}
	if n, _ := reg.Len(context.Background()); n != 0 {
		t.Fatal("blank names must not enter the registry")
	}
	if len(rec.All()) != 0 {
		t.Fatal("blank join must not broadcast")
	}
}

func TestLeaveUserNotPresent(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	if oc := r.LeaveUser(context.Background(), "ghost"); oc != delivery.Unchanged {
		t.Fatalf("LeaveUser = %v", oc)
	}
	if oc := r.LeaveUser(context.Background(), ""); oc != delivery.DroppedInvalid {
		t.Fatalf("LeaveUser(blank) = %v", oc)
	}
	if len(rec.All()) != 0 {
		t.Fatalf("leave of absent user produced %d deliveries", len(rec.All()))
	}
}

func TestRosterScenario(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	ctx := context.Background()

	r.AddUser(ctx, "alice")
	last := rec.OnTopic(delivery.TopicRoster)
	if got := rosterNames(t, last[len(last)-1]); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("after alice: %v", got)
	}

	r.AddUser(ctx, "bob")
	last = rec.OnTopic(delivery.TopicRoster)
	if got := rosterNames(t, last[len(last)-1]); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("after bob: %v", got)
	}

	if oc := r.LeaveUser(ctx, "alice"); oc != delivery.Delivered {
		t.Fatalf("LeaveUser = %v", oc)
	}
	last = rec.OnTopic(delivery.TopicRoster)
	if got := rosterNames(t, last[len(last)-1]); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("after alice left: %v", got)
	}
	pub := rec.OnTopic(delivery.TopicPublic)
	leave := eventOf(t, pub[len(pub)-1])
	if leave.Type != model.KindLeave || leave.Content != "alice left the chat" {
		t.Fatalf("unexpected leave event: %+v", leave)
	}

	names, err := r.Roster(ctx)
	if err != nil || len(names) != 1 || names[0] != "bob" {
		t.Fatalf("Roster = %v, %v", names, err)
	}
}

func TestPublicChat(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	join(t, r, rec, "alice")

	stale := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	oc := r.HandleChat(context.Background(), model.ChatEvent{
		Sender:     "alice",
		Content:    "hello all",
		Timestamp:  stale,
		ProfilePic: "data:image/png;base64,AAA",
	})
	if oc != delivery.Delivered {
		t.Fatalf("HandleChat = %v", oc)
	}
	all := rec.All()
	if len(all) != 1 || all[0].Topic != delivery.TopicPublic || all[0].User != "" {
		t.Fatalf("want exactly one public delivery, got %+v", all)
	}
	ev := eventOf(t, all[0])
	if ev.Type != model.KindChat || ev.Content != "hello all" || ev.ProfilePic != "data:image/png;base64,AAA" {
		t.Fatalf("event not forwarded verbatim: %+v", ev)
	}
	if !ev.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp must be stamped by the router, got %v", ev.Timestamp)
	}
}

func TestPrivateChatScenario(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	join(t, r, rec, "alice", "bob")

	oc := r.HandleChat(context.Background(), model.ChatEvent{
		Type:     model.KindChat,
		Sender:   "alice",
		Receiver: "bob",
		Content:  "hi",
	})
	if oc != delivery.Delivered {
		t.Fatalf("HandleChat = %v", oc)
	}

	for _, user := range []string{"bob", "alice"} {
		got := rec.ToUser(user, delivery.ChannelPrivate)
		if len(got) != 1 {
			t.Fatalf("%s private deliveries = %d, want 1", user, len(got))
		}
		if ev := eventOf(t, got[0]); ev.Content != "hi" || ev.Receiver != "bob" {
			t.Fatalf("%s got %+v", user, ev)
		}
	}

	pub := rec.OnTopic(delivery.TopicPublic)
	if len(pub) != 1 {
		t.Fatalf("want one public echo, got %d", len(pub))
	}
	echo := eventOf(t, pub[0])
	if echo.Type != model.KindChat || echo.Receiver != "" || echo.Content != "hi" || echo.Sender != "alice" {
		t.Fatalf("unexpected echo: %+v", echo)
	}
	if len(rec.All()) != 3 {
		t.Fatalf("want 3 deliveries in total, got %d", len(rec.All()))
	}

	// receiver first, then sender echo, then public copy
	all := rec.All()
	if all[0].User != "bob" || all[1].User != "alice" || all[2].Topic != delivery.TopicPublic {
		t.Fatalf("unexpected delivery order: %+v", all)
	}
}

func TestChatDrops(t *testing.T) {
	cases := []struct {
		name string
		ev   model.ChatEvent
		want delivery.Outcome
	}{
		{"empty sender", model.ChatEvent{Content: "x"}, delivery.DroppedInvalid},
		{"unknown sender public", model.ChatEvent{Sender: "mallory", Content: "x"}, delivery.DroppedUnknownSender},
		{"unknown sender private", model.ChatEvent{Sender: "mallory", Receiver: "alice"}, delivery.DroppedUnknownSender},
		{"unknown receiver", model.ChatEvent{Sender: "alice", Receiver: "carol", Content: "x"}, delivery.DroppedUnknownReceiver},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, rec, _ := newTestRouter(t)
			join(t, r, rec, "alice")

			if oc := r.HandleChat(context.Background(), tc.ev); oc != tc.want {
				t.Fatalf("HandleChat = %v, want %v", oc, tc.want)
			}
			if oc := r.HandleFile(context.Background(), tc.ev); oc != tc.want {
				t.Fatalf("HandleFile = %v, want %v", oc, tc.want)
			}
			if n := len(rec.All()); n != 0 {
				t.Fatalf("dropped event produced %d deliveries", n)
			}
		})
	}
}

func TestPublicFileKeepsPayload(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	join(t, r, rec, "alice")

	oc := r.HandleFile(context.Background(), model.ChatEvent{
		Type:     model.KindChat, // forced to FILE
		Sender:   "alice",
		FileName: "cat.png",
		FileType: "image/png",
		FileSize: 3,
		FileData: "AAEC",
	})
	if oc != delivery.Delivered {
		t.Fatalf("HandleFile = %v", oc)
	}
	pub := rec.OnTopic(delivery.TopicPublic)
	if len(pub) != 1 || len(rec.All()) != 1 {
		t.Fatalf("want a single public delivery, got %+v", rec.All())
	}
	ev := eventOf(t, pub[0])
	if ev.Type != model.KindFile || ev.FileData != "AAEC" || ev.FileName != "cat.png" {
		t.Fatalf("public file not forwarded verbatim: %+v", ev)
	}
}

func TestPrivateFileEchoIsChat(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"caption", "look at this", "[FILE to bob]: look at this"},
		{"no caption", "", "[FILE to bob]: cat.png"},
		{"blank caption", "  ", "[FILE to bob]: cat.png"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, rec, _ := newTestRouter(t)
			join(t, r, rec, "alice", "bob")

			oc := r.HandleFile(context.Background(), model.ChatEvent{
				Sender:   "alice",
				Receiver: "bob",
				Content:  tc.content,
				FileName: "cat.png",
				FileData: "AAEC",
			})
			if oc != delivery.Delivered {
				t.Fatalf("HandleFile = %v", oc)
			}
			for _, user := range []string{"bob", "alice"} {
				got := rec.ToUser(user, delivery.ChannelPrivate)
				if len(got) != 1 {
					t.Fatalf("%s got %d deliveries", user, len(got))
				}
				if ev := eventOf(t, got[0]); ev.Type != model.KindFile || ev.FileData != "AAEC" {
					t.Fatalf("%s got %+v", user, ev)
				}
			}
			pub := rec.OnTopic(delivery.TopicPublic)
			if len(pub) != 1 {
				t.Fatalf("want one public echo, got %d", len(pub))
			}
			echo := eventOf(t, pub[0])
			if echo.Type != model.KindChat {
				t.Fatalf("echo must be CHAT, got %s", echo.Type)
			}
			if echo.Content != tc.want || echo.FileData != "" || echo.FileName != "" || echo.Receiver != "" {
				t.Fatalf("unexpected echo: %+v", echo)
			}
		})
	}
}

func TestDeliveryFailureIsNotRetried(t *testing.T) {
	r, rec, _ := newTestRouter(t)
	join(t, r, rec, "alice", "bob")
	rec.Err = errors.New("queue full")

	oc := r.HandleChat(context.Background(), model.ChatEvent{Sender: "alice", Receiver: "bob", Content: "hi"})
	if oc != delivery.Delivered {
		t.Fatalf("transport failures are not surfaced, got %v", oc)
	}
	if n := len(rec.All()); n != 3 {
		t.Fatalf("each delivery attempted exactly once, got %d attempts", n)
	}
}

type brokenRegistry struct{ presence.Set }

var errBackend = errors.New("backend down")

func (*brokenRegistry) Add(context.Context, string) (bool, error)      { return false, errBackend }
func (*brokenRegistry) Remove(context.Context, string) (bool, error)   { return false, errBackend }
func (*brokenRegistry) Contains(context.Context, string) (bool, error) { return false, errBackend }

func TestRegistryErrors(t *testing.T) {
	rec := delivery.NewRecorder()
	r := NewRouter(&brokenRegistry{}, rec, WithLogger(zap.NewNop()))
	ctx := context.Background()

	if oc := r.AddUser(ctx, "alice"); oc != delivery.DroppedUnavailable {
		t.Fatalf("AddUser = %v", oc)
	}
	if oc := r.LeaveUser(ctx, "alice"); oc != delivery.DroppedUnavailable {
		t.Fatalf("LeaveUser = %v", oc)
	}
	if oc := r.HandleChat(ctx, model.ChatEvent{Sender: "alice"}); oc != delivery.DroppedUnavailable {
		t.Fatalf("HandleChat = %v", oc)
	}
	if len(rec.All()) != 0 {
		t.Fatal("registry failures must not deliver anything")
	}
}
