package wire

import "testing"

func TestPeekFrameLenSTUN(t *testing.T) {
	t.Parallel()
	msg := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(1), nil).
		AddSoftware("x").
		Flush(IntegrityNone, nil, false)
	n, ok := PeekFrameLen(msg)
	if !ok || n != len(msg) {
		t.Fatalf("PeekFrameLen() = (%d, %v), want (%d, true)", n, ok, len(msg))
	}
}

func TestPeekFrameLenSTUNPartial(t *testing.T) {
	t.Parallel()
	msg := Extend(MessageType{Method: MethodBinding, Class: ClassRequest}, txID(1), nil).
		Flush(IntegrityNone, nil, false)
	if _, ok := PeekFrameLen(msg[:HeaderSize-1]); ok {
		t.Fatal("expected not-enough-bytes on a truncated header")
	}
}

func TestPeekFrameLenChannelData(t *testing.T) {
	t.Parallel()
	frame := EncodeChannelData(0x4001, []byte{1, 2, 3}, true, nil)
	n, ok := PeekFrameLen(frame)
	if !ok || n != len(frame) {
		t.Fatalf("PeekFrameLen() = (%d, %v), want (%d, true)", n, ok, len(frame))
	}
	if n%4 != 0 {
		t.Fatalf("TCP ChannelData frame length %d not 4-byte aligned", n)
	}
}

func TestPeekFrameLenUnknown(t *testing.T) {
	t.Parallel()
	if _, ok := PeekFrameLen([]byte{0xC0, 0, 0, 0}); ok {
		t.Fatal("expected unknown frame prefix to report not-ok")
	}
}
