package orderer

import (
	"testing"
	"time"

	"github.com/metaapi-go/sdk/packets"
)

func seqPacket(accountID string, typ packets.Type, seq int64) packets.Packet {
	return packets.Packet{Type: typ, AccountID: accountID, SequenceNumber: &seq}
}

func TestInOrderPassesThroughImmediately(t *testing.T) {
	o := New(50*time.Millisecond, nil, nil)
	defer o.Close()

	out := o.Ingest(seqPacket("A", packets.TypeSynchronizationStarted, 1))
	if len(out) != 1 {
		t.Fatalf("expected synchronizationStarted to pass through, got %d packets", len(out))
	}

	out = o.Ingest(seqPacket("A", packets.TypePrices, 2))
	if len(out) != 1 {
		t.Fatalf("expected in-order packet to pass through with no buffering delay, got %d", len(out))
	}
}

func TestOutOfOrderBuffersAndDeliversInOrder(t *testing.T) {
	o := New(200*time.Millisecond, nil, nil)
	defer o.Close()

	o.Ingest(seqPacket("A", packets.TypeSynchronizationStarted, 1))

	// packet 3 arrives before packet 2
	out := o.Ingest(seqPacket("A", packets.TypePrices, 3))
	if len(out) != 0 {
		t.Fatalf("expected packet 3 to be buffered, not delivered yet; got %d", len(out))
	}

	out = o.Ingest(seqPacket("A", packets.TypePrices, 2))
	if len(out) != 2 {
		t.Fatalf("expected packets 2 and 3 delivered together, got %d", len(out))
	}
	seq0, _ := out[0].Seq()
	seq1, _ := out[1].Seq()
	if seq0 != 2 || seq1 != 3 {
		t.Fatalf("expected delivery order [2,3], got [%d,%d]", seq0, seq1)
	}
}

func TestStaleSequenceDiscardedSilently(t *testing.T) {
	o := New(200*time.Millisecond, nil, nil)
	defer o.Close()

	o.Ingest(seqPacket("A", packets.TypeSynchronizationStarted, 5))
	o.Ingest(seqPacket("A", packets.TypePrices, 6))

	out := o.Ingest(seqPacket("A", packets.TypePrices, 3))
	if len(out) != 0 {
		t.Fatalf("expected stale packet to be discarded, got %d", len(out))
	}
}

func TestTimeoutRecoversAndSurfacesBufferedPackets(t *testing.T) {
	// Mirrors spec.md S5: synchronizationStarted#10, prices#11, prices#13 (skip 12).
	o := New(50*time.Millisecond, nil, nil)
	defer o.Close()

	o.Ingest(seqPacket("A", packets.TypeSynchronizationStarted, 10))
	o.Ingest(seqPacket("A", packets.TypePrices, 11))
	o.Ingest(seqPacket("A", packets.TypePrices, 13))

	select {
	case rec := <-o.Recovered():
		if rec.AccountID != "A" {
			t.Fatalf("expected recovery for account A, got %q", rec.AccountID)
		}
		if len(rec.Packets) != 1 {
			t.Fatalf("expected exactly the buffered packet 13 to surface, got %d", len(rec.Packets))
		}
		if seq, _ := rec.Packets[0].Seq(); seq != 13 {
			t.Fatalf("expected surfaced packet to be seq 13, got %d", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for recovery")
	}
}

func TestNoSequenceNumberPassesThroughAlways(t *testing.T) {
	o := New(50*time.Millisecond, nil, nil)
	defer o.Close()

	out := o.Ingest(packets.Packet{Type: packets.TypeStatus, AccountID: "A"})
	if len(out) != 1 {
		t.Fatalf("packets without a sequence number must pass through immediately")
	}
}
