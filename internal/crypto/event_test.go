package crypto

import (
	"testing"
	"time"

	"nostr-messenger/internal/types"
)

func testEvent(pubkey string) *types.Event {
	return &types.Event{
		PubKey:    pubkey,
		CreatedAt: 1700000000,
		Kind:      types.KindNote,
		Tags:      [][]string{{"p", "0000000000000000000000000000000000000000000000000000000000000001"}},
		Content:   "hello nostr",
	}
}

func TestComputeEventIDDeterministic(t *testing.T) {
	evt := testEvent("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")

	first := ComputeEventID(evt)
	second := ComputeEventID(evt)
	if first != second {
		t.Error("event ID not deterministic")
	}
	if len(first) != 64 {
		t.Errorf("event ID length = %d, want 64", len(first))
	}
}

func TestComputeEventIDSensitiveToContent(t *testing.T) {
	evt := testEvent("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	original := ComputeEventID(evt)

	evt.Content = "different content"
	if ComputeEventID(evt) == original {
		t.Error("event ID unchanged after content change")
	}
}

func TestComputeEventIDUnescapedHTML(t *testing.T) {
	// IDs are computed over unescaped JSON; <, >, & must not change
	// behavior between runs or depend on Go's default HTML escaping.
	evt := testEvent("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	evt.Content = `a <b> & "c" message`

	first := ComputeEventID(evt)
	second := ComputeEventID(evt)
	if first != second || len(first) != 64 {
		t.Errorf("unexpected ID for HTML content: %s", first)
	}
}

func TestSignAndVerifyEvent(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	evt := &types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindNote,
		Tags:      [][]string{},
		Content:   "signed note",
	}
	if err := id.SignEvent(evt); err != nil {
		t.Fatalf("SignEvent failed: %v", err)
	}

	if evt.PubKey != id.PubKey() {
		t.Errorf("event pubkey = %s, want %s", evt.PubKey, id.PubKey())
	}
	if len(evt.Sig) != 128 {
		t.Errorf("signature length = %d, want 128", len(evt.Sig))
	}
	if !VerifyEvent(evt) {
		t.Error("freshly signed event failed verification")
	}
}

func TestVerifyEventRejectsMutation(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %v", err)
	}

	evt := &types.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindNote,
		Tags:      [][]string{},
		Content:   "original",
	}
	if err := id.SignEvent(evt); err != nil {
		t.Fatalf("SignEvent failed: %v", err)
	}

	t.Run("content changed", func(t *testing.T) {
		mutated := *evt
		mutated.Content = "forged"
		if VerifyEvent(&mutated) {
			t.Error("verification passed after content mutation")
		}
	})

	t.Run("created_at changed", func(t *testing.T) {
		mutated := *evt
		mutated.CreatedAt++
		if VerifyEvent(&mutated) {
			t.Error("verification passed after timestamp mutation")
		}
	})

	t.Run("author swapped", func(t *testing.T) {
		other, _ := GenerateIdentity()
		mutated := *evt
		mutated.PubKey = other.PubKey()
		if VerifyEvent(&mutated) {
			t.Error("verification passed after author swap")
		}
	})
}

func TestVerifySignatureRejectsGarbage(t *testing.T) {
	evt := testEvent("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	evt.ID = ComputeEventID(evt)
	evt.Sig = "zz"
	if VerifySignature(evt) {
		t.Error("verification passed for malformed signature")
	}
}
