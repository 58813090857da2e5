package decode

import (
	"errors"
	"testing"
	"time"

	"ChatRelay/tools/errs"
)

type sample struct {
	Name  string    `json:"name"`
	Size  int64     `json:"size"`
	Tag   string    `json:"tag"`
	When  time.Time `json:"when"`
	Flags bool      `json:"flags"`
}

func TestDecodeJSONWeakTypes(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"name":"a.png","size":"2048","tag":7,"when":"2024-05-01T10:11:12","flags":null}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.Name != "a.png" || got.Size != 2048 || got.Tag != "7" {
		t.Fatalf("unexpected decode: %+v", got)
	}
	if got.When.Year() != 2024 || got.When.Hour() != 10 {
		t.Fatalf("time not parsed: %v", got.When)
	}
}

func TestDecodeJSONLenientTime(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"name":"x","when":"not a time"}`))
	if err != nil {
		t.Fatalf("bad time must not fail decode: %v", err)
	}
	if !got.When.IsZero() {
		t.Fatalf("expected zero time, got %v", got.When)
	}
	got, err = DecodeJSON[sample]([]byte(`{"when":1700000000000}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.When.UnixMilli() != 1700000000000 {
		t.Fatalf("epoch millis not parsed: %v", got.When)
	}
}

func TestDecodeJSONRejects(t *testing.T) {
	for _, body := range []string{"", "  ", "[1,2]", "{bad", `{"size":"big"}`} {
		if _, err := DecodeJSON[sample]([]byte(body)); !errors.Is(err, errs.ErrArgs) {
			t.Errorf("body %q: expected ErrArgs, got %v", body, err)
		}
	}
}

func TestDecodeStrict(t *testing.T) {
	_, err := DecodeMap[sample](map[string]any{"size": "12"}, Options{WeaklyTypedInput: false})
	if err == nil {
		t.Fatal("strict decode should reject string for int64")
	}
}
