package jsonrpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"
)

func TestLineFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineFraming(&bytes.Buffer{}, &buf)
	msg, err := NewRequest(NewID(1), "chat.complete", map[string]string{"prompt": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}
	if buf.Bytes()[buf.Len()-1] != '\n' {
		t.Error("line framing must terminate with LF")
	}

	r := NewLineFraming(&buf, &bytes.Buffer{})
	back, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if back.Method != "chat.complete" || back.ID.Num != 1 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestPrefixFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewPrefixFraming(&bytes.Buffer{}, &buf)
	msg, err := NewRequest(NewStringID("abc"), "tool.list", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMessage(msg); err != nil {
		t.Fatal(err)
	}

	// First four bytes carry the big-endian payload size.
	size := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if int(size) != buf.Len()-4 {
		t.Errorf("prefix = %d, payload = %d", size, buf.Len()-4)
	}

	r := NewPrefixFraming(&buf, &bytes.Buffer{})
	back, err := r.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if back.Method != "tool.list" || !back.ID.IsStr || back.ID.Str != "abc" {
		t.Errorf("round trip = %+v", back)
	}
}

func TestDetectSelectsFramingFromFirstByte(t *testing.T) {
	// A leading '{' selects line framing.
	var lineBuf bytes.Buffer
	lineBuf.WriteString(`{"jsonrpc":"2.0","id":1,"method":"auth.hello"}` + "\n")
	f, err := Detect(&lineBuf, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := f.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Method != "auth.hello" {
		t.Errorf("method = %q", msg.Method)
	}

	// Anything else is read as a length prefix.
	payload := []byte(`{"jsonrpc":"2.0","id":2,"method":"version"}`)
	var prefixBuf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	prefixBuf.Write(header[:])
	prefixBuf.Write(payload)
	f, err = Detect(&prefixBuf, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	msg, err = f.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msg.Method != "version" {
		t.Errorf("method = %q", msg.Method)
	}
}

func TestIDEncoding(t *testing.T) {
	num, _ := json.Marshal(NewID(42))
	if string(num) != "42" {
		t.Errorf("numeric id = %s", num)
	}
	str, _ := json.Marshal(NewStringID("x7"))
	if string(str) != `"x7"` {
		t.Errorf("string id = %s", str)
	}

	var id ID
	if err := json.Unmarshal([]byte(`"abc"`), &id); err != nil || !id.IsStr || id.Str != "abc" {
		t.Errorf("string decode = %+v, %v", id, err)
	}
	if err := json.Unmarshal([]byte(`7`), &id); err != nil || id.IsStr || id.Num != 7 {
		t.Errorf("numeric decode = %+v, %v", id, err)
	}
}

func TestMessageClassification(t *testing.T) {
	req, _ := NewRequest(NewID(1), "m", nil)
	if !req.IsRequest() || req.IsNotification() {
		t.Error("request misclassified")
	}
	note, _ := NewNotification("m", nil)
	if note.IsRequest() || !note.IsNotification() {
		t.Error("notification misclassified")
	}
	res, _ := NewResult(NewID(1), "ok")
	if res.IsRequest() || res.IsNotification() {
		t.Error("response misclassified")
	}
}

func TestPrefixFramingRejectsOversizedFrames(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(maxFrameSize+1))
	buf.Write(header[:])
	r := NewPrefixFraming(&buf, &bytes.Buffer{})
	if _, err := r.ReadMessage(); err == nil {
		t.Fatal("oversized frame accepted")
	}
}
