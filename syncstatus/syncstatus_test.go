package syncstatus

import "testing"

func TestSubscribeFiresImmediately(t *testing.T) {
	r := New()
	var got Status
	calls := 0
	r.Subscribe(func(s Status) {
		got = s
		calls++
	})
	if calls != 1 {
		t.Fatalf("expected immediate delivery, got %d calls", calls)
	}
	if got.LocalRead != LocalReadLoading {
		t.Fatalf("expected default localRead=loading, got %v", got.LocalRead)
	}
}

func TestFlushCoalescesMultipleMutations(t *testing.T) {
	r := New()
	calls := 0
	r.Subscribe(func(Status) { calls++ })
	if calls != 1 {
		t.Fatalf("expected 1 call after subscribe, got %d", calls)
	}

	r.SetLocalSave(SavePending)
	r.SetLocalSave(SaveSaving)
	r.SetLocalSave(SaveReady)
	r.Flush()

	if calls != 2 {
		t.Fatalf("expected exactly one emit for the whole micro-batch, got %d calls", calls)
	}
}

func TestFlushNoopWhenUnchanged(t *testing.T) {
	r := New()
	calls := 0
	r.Subscribe(func(Status) { calls++ })
	r.Flush()
	r.Flush()
	if calls != 1 {
		t.Fatalf("expected no extra emits without a mutation, got %d calls", calls)
	}
}

func TestLocalSaveTransitionSequence(t *testing.T) {
	r := New()
	var seen []SaveState
	r.Subscribe(func(s Status) { seen = append(seen, s.LocalSave) })

	r.SetLocalSave(SavePending)
	r.Flush()
	r.SetLocalSave(SaveSaving)
	r.Flush()
	r.SetLocalSave(SaveReady)
	r.Flush()

	want := []SaveState{SaveReady, SavePending, SaveSaving, SaveReady}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(seen), seen)
	}
	for i, w := range want {
		if seen[i] != w {
			t.Errorf("transition %d: expected %v, got %v", i, w, seen[i])
		}
	}
}
