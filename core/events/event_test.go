package events

import (
	"testing"
	"time"
)

func TestBufferDrain(t *testing.T) {
	var buf Buffer
	buf.Emit(ManagerUpdated{PreviousManagerID: "a.ledger", NewManagerID: "b.ledger"})
	buf.Emit(nil)
	buf.Emit(WalletPauseToggled{Paused: true, By: "owner.ledger"})

	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 events, got %d", len(drained))
	}
	if drained[0].EventType() != TypeManagerUpdated {
		t.Fatalf("unexpected first event %s", drained[0].EventType())
	}
	if rendered := drained[1].Event(); rendered.Attr("paused") != "true" {
		t.Fatalf("unexpected paused attribute %q", rendered.Attr("paused"))
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("expected buffer to be empty after drain")
	}
}

func TestFanoutDeliversAndUnsubscribes(t *testing.T) {
	fan := NewFanout()
	ch, cancel := fan.Subscribe(1)

	fan.Emit(IntentRecorded{Seq: 7, Kind: "transfer", Target: "chiron.ledger", Gas: 10})
	select {
	case evt := <-ch:
		if evt.Type != TypeIntentRecorded || evt.Attr("seq") != "7" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}

	// A full subscriber must not block the emitter.
	fan.Emit(IntentRecorded{Seq: 8})
	fan.Emit(IntentRecorded{Seq: 9})

	cancel()
	cancel()
	fan.Emit(IntentRecorded{Seq: 10})
}

func TestAccountCreatedAttributes(t *testing.T) {
	var digest [32]byte
	digest[0] = 0xab
	evt := AccountCreated{Digest: digest, Username: "alice", AccountID: "alice.wallet.ledger", Creator: "m.ledger"}.Event()
	if evt.Attr("digest")[:2] != "ab" {
		t.Fatalf("unexpected digest encoding %s", evt.Attr("digest"))
	}
	keys := evt.Keys()
	if len(keys) != 4 || keys[0] != "accountId" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
