package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestHelloWireFormat(t *testing.T) {
	data, err := Encode(Hello{HeartbeatIntervalMS: 25000})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	expect := `{"op":"Hello","d":{"heartbeat_interval_ms":25000}}`
	if string(data) != expect {
		t.Fatalf("Expected %s, got %s", expect, data)
	}
}

func TestIdentifyWireFormat(t *testing.T) {
	data, err := Encode(Identify{UserID: "00000000-0000-0000-0000-000000000000"})
	if err != nil {
		t.Fatalf("encode identify: %v", err)
	}
	expect := `{"op":"Identify","d":{"user_id":"00000000-0000-0000-0000-000000000000"}}`
	if string(data) != expect {
		t.Fatalf("Expected %s, got %s", expect, data)
	}
}

func TestRoundTrip(t *testing.T) {
	frames := []Payload{
		Hello{HeartbeatIntervalMS: 25000},
		Identify{UserID: "user-1"},
		Identify{Token: "tok-1"},
		Subscribe{ChannelID: "general"},
		Unsubscribe{ChannelID: "general"},
		MessageCreate{ChannelID: "general", Content: "hi"},
		MessageCreate{ChannelID: "general", Content: ""},
		Dispatch{T: EventMessageCreate, D: json.RawMessage(`{"content":"hi"}`)},
		Heartbeat{Nonce: 7},
		Heartbeat{},
		HeartbeatAck{Nonce: 7},
	}

	for _, frame := range frames {
		data, err := Encode(frame)
		if err != nil {
			t.Errorf("Encode(%#v): %v", frame, err)
			continue
		}
		decoded, err := Decode(data)
		if err != nil {
			t.Errorf("Decode(%s): %v", data, err)
			continue
		}
		if !reflect.DeepEqual(decoded, frame) {
			t.Errorf("round trip mismatch: expected %#v, got %#v", frame, decoded)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"missing op", `{"d":{}}`},
		{"unknown op", `{"op":"Resume","d":{}}`},
		{"missing payload", `{"op":"Subscribe"}`},
		{"null payload", `{"op":"Subscribe","d":null}`},
		{"wrong payload type", `{"op":"Subscribe","d":"general"}`},
		{"missing channel", `{"op":"Subscribe","d":{}}`},
		{"missing identity", `{"op":"Identify","d":{}}`},
		{"bad heartbeat interval", `{"op":"Hello","d":{"heartbeat_interval_ms":"soon"}}`},
		{"missing dispatch type", `{"op":"Dispatch","d":{"d":{}}}`},
	}

	for _, tt := range tests {
		_, err := Decode([]byte(tt.input))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !IsDecodeError(err) {
			t.Errorf("%s: expected *DecodeError, got %T", tt.name, err)
		}
	}
}

func TestDispatchFrameCarriesEvent(t *testing.T) {
	event := NewMessageCreateEvent("conn-a", "general", "hi")
	data, err := event.DispatchFrame()
	if err != nil {
		t.Fatalf("DispatchFrame: %v", err)
	}

	payload, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dispatch, ok := payload.(Dispatch)
	if !ok {
		t.Fatalf("Expected Dispatch, got %T", payload)
	}
	if dispatch.T != EventMessageCreate {
		t.Fatalf("Expected %s, got %s", EventMessageCreate, dispatch.T)
	}
	decoded, err := DecodeMessageCreate(dispatch)
	if err != nil {
		t.Fatalf("DecodeMessageCreate: %v", err)
	}
	if decoded != event {
		t.Fatalf("Expected %+v, got %+v", event, decoded)
	}

	var raw map[string]any
	if err := json.Unmarshal(dispatch.D, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "channel_id", "author_connection_id", "content"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("event json missing %q: %s", key, dispatch.D)
		}
	}
}

func TestEventIDsAreSorted(t *testing.T) {
	prev := NewEventID()
	for i := 0; i < 1000; i++ {
		next := NewEventID()
		if next.Compare(prev) <= 0 {
			t.Fatalf("event ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestDispatchPayloadIsCompacted(t *testing.T) {
	wire := []byte(`{"op":"Dispatch","d":{"t":"X","d":{"a": 1,  "b" : [1, 2]}}}`)
	decoded, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	dispatch := decoded.(Dispatch)
	if string(dispatch.D) != `{"a":1,"b":[1,2]}` {
		t.Errorf("D = %s, want compact form", dispatch.D)
	}

	again, err := Decode(MustEncode(dispatch))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if !reflect.DeepEqual(again, decoded) {
		t.Errorf("round trip changed payload: %+v != %+v", again, decoded)
	}
}
