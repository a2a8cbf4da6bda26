package selection

import (
	"errors"
	"testing"
	"time"
)

func TestDraft_StageProgression(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	d := NewDraft("draft-1", "exp-1", 2, now)

	if d.Stage() != StageNoActivity {
		t.Fatalf("new draft stage = %s", d.Stage())
	}

	d.ChooseActivity("act-1", now)
	if d.Stage() != StageActivityChosen {
		t.Fatalf("after activity stage = %s", d.Stage())
	}

	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatalf("choose date: %v", err)
	}
	if d.Stage() != StageDateChosen {
		t.Fatalf("after date stage = %s", d.Stage())
	}

	if err := d.ChooseSlot("slot-1", true, now); err != nil {
		t.Fatalf("choose slot: %v", err)
	}
	if d.Stage() != StageSlotChosen {
		t.Fatalf("after slot stage = %s", d.Stage())
	}
}

func TestDraft_OutOfOrderChoices(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 2, now)

	if err := d.ChooseDate("2026-09-05", now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("date before activity: expected ErrOutOfOrder, got %v", err)
	}
	if err := d.ChooseSlot("slot-1", true, now); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("slot before date: expected ErrOutOfOrder, got %v", err)
	}
}

func TestDraft_ChangingActivityResetsDownstream(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 2, now)
	d.ChooseActivity("act-1", now)
	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatal(err)
	}
	if err := d.ChooseSlot("slot-1", true, now); err != nil {
		t.Fatal(err)
	}

	d.ChooseActivity("act-2", now)
	if d.BookingDate != "" || d.TimeSlotID != "" {
		t.Fatalf("activity change should clear date and slot, got %q %q", d.BookingDate, d.TimeSlotID)
	}
	if d.Stage() != StageActivityChosen {
		t.Fatalf("stage = %s", d.Stage())
	}
}

func TestDraft_ChangingDateResetsSlot(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 2, now)
	d.ChooseActivity("act-1", now)
	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatal(err)
	}
	if err := d.ChooseSlot("slot-1", true, now); err != nil {
		t.Fatal(err)
	}

	if err := d.ChooseDate("2026-09-06", now); err != nil {
		t.Fatal(err)
	}
	if d.TimeSlotID != "" {
		t.Fatalf("date change should clear slot, got %q", d.TimeSlotID)
	}
	if d.ActivityID != "act-1" {
		t.Fatalf("activity should survive date change, got %q", d.ActivityID)
	}
}

func TestDraft_RejectsUnbookableSlot(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 5, now)
	d.ChooseActivity("act-1", now)
	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatal(err)
	}

	if err := d.ChooseSlot("slot-full", false, now); !errors.Is(err, ErrNotBookable) {
		t.Fatalf("expected ErrNotBookable, got %v", err)
	}
	if d.Stage() != StageDateChosen {
		t.Fatalf("failed choice should not advance stage, got %s", d.Stage())
	}
}

func TestDraft_PartySizeChangeClearsSlot(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 2, now)
	d.ChooseActivity("act-1", now)
	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatal(err)
	}
	if err := d.ChooseSlot("slot-1", true, now); err != nil {
		t.Fatal(err)
	}

	if err := d.SetPartySize(6, now); err != nil {
		t.Fatal(err)
	}
	if d.TimeSlotID != "" {
		t.Fatal("slot fit was checked for the old party size and should be cleared")
	}
	if d.BookingDate != "2026-09-05" {
		t.Fatalf("date should survive party size change, got %q", d.BookingDate)
	}
	if err := d.SetPartySize(0, now); err == nil {
		t.Fatal("party size 0 should be rejected")
	}
}

func TestDraft_Reset(t *testing.T) {
	now := time.Now()
	d := NewDraft("draft-1", "exp-1", 2, now)
	d.ChooseActivity("act-1", now)
	if err := d.ChooseDate("2026-09-05", now); err != nil {
		t.Fatal(err)
	}
	if err := d.ChooseSlot("slot-1", true, now); err != nil {
		t.Fatal(err)
	}

	d.Reset(StageDateChosen, now)
	if d.Stage() != StageActivityChosen {
		t.Fatalf("reset to date predecessor, stage = %s", d.Stage())
	}

	d.Reset("", now)
	if d.Stage() != StageNoActivity {
		t.Fatalf("full reset, stage = %s", d.Stage())
	}
}
