package value

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		Null(),
		Bool(true),
		Bool(false),
		Int64(-42),
		Float64(3.14159),
		String("hello graph"),
		Bytes([]byte{1, 2, 3, 4}),
		TimestampMillis(1700000000000),
		List([]Value{Int64(1), String("two"), Bool(true)}),
		Map(map[string]Value{"a": Int64(1), "b": String("x")}),
	}

	for _, want := range cases {
		enc, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", want, err)
		}
		got, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if n != len(enc) {
			t.Fatalf("Decode consumed %d bytes, want %d", n, len(enc))
		}
		if !Equal(got, want) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	huge := make([]byte, MaxValueSize+1)
	_, err := Encode(Bytes(huge))
	if err == nil {
		t.Fatal("expected PayloadTooLarge error for an oversized value, got nil")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, _, err := Decode([]byte{0xFF})
	if err == nil {
		t.Fatal("expected an error decoding an unknown tag, got nil")
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, _, err := Decode([]byte{byte(TagInt64), 0, 0})
	if err == nil {
		t.Fatal("expected an error decoding a truncated int64, got nil")
	}
}
