package chat

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeRejectsUnknownType(t *testing.T) {
	data, err := Encode("file", map[string]string{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Decode = %v, want ErrUnknownType", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xc1}); err == nil {
		t.Error("decoded an invalid msgpack byte")
	}
}

func TestFrameUsesShortKeys(t *testing.T) {
	data, err := Encode(TypeText, TextPayload{Body: "hi", SentAt: 1})
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != TypeText {
		t.Errorf("type = %v", raw["type"])
	}
	if _, ok := raw["payload"]; !ok {
		t.Errorf("frame keys = %v", raw)
	}
}
