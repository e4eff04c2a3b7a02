package packets

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampFieldsParseISO8601(t *testing.T) {
	raw := []byte(`{"symbol":"EURUSD","bid":1.1,"ask":1.1002,"time":"2020-10-10T09:00:01.000Z","brokerTime":"2020-10-10 12:00:01.000"}`)
	var p Price
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := time.Date(2020, 10, 10, 9, 0, 1, 0, time.UTC)
	if !p.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", p.Time, want)
	}
	if p.BrokerTime != "2020-10-10 12:00:01.000" {
		t.Errorf("BrokerTime should pass through as a plain string unmodified, got %q", p.BrokerTime)
	}
}

func TestTimestampNormalizationIsIdempotent(t *testing.T) {
	raw := []byte(`{"symbol":"EURUSD","bid":1.1,"ask":1.1002,"time":"2020-10-10T09:00:01.000Z"}`)
	var first, second Price
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	reencoded, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := json.Unmarshal(reencoded, &second); err != nil {
		t.Fatalf("unmarshal round-trip: %v", err)
	}
	if !first.Time.Equal(second.Time) {
		t.Errorf("re-normalizing an already-normalized packet changed Time: %v != %v", first.Time, second.Time)
	}
}

func TestPacketSeq(t *testing.T) {
	var n int64 = 42
	p := Packet{SequenceNumber: &n}
	got, ok := p.Seq()
	if !ok || got != 42 {
		t.Fatalf("Seq() = %d, %v, want 42, true", got, ok)
	}

	empty := Packet{}
	if _, ok := empty.Seq(); ok {
		t.Fatalf("Seq() on packet with no sequenceNumber should report ok=false")
	}
}
