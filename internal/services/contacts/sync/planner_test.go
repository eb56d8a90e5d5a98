package sync

import (
	"fmt"
	"testing"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
)

func TestPlanFromPhonesBucketsEntries(t *testing.T) {
	plan, err := PlanFromPhones([]string{
		"+15551234567",
		"(555) 123-4567", // same number, different formatting
		"not a number",
		"+442079460958",
	}, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.TotalAccepted != 2 {
		t.Fatalf("accepted = %d, want 2", plan.TotalAccepted)
	}
	if len(plan.Invalid) != 1 || plan.Invalid[0].Raw != "not a number" {
		t.Fatalf("invalid = %+v", plan.Invalid)
	}
	if len(plan.DuplicateRaws) != 1 || plan.DuplicateRaws[0] != "(555) 123-4567" {
		t.Fatalf("duplicates = %+v", plan.DuplicateRaws)
	}
	if len(plan.Batches) != 1 || len(plan.Batches[0]) != 2 {
		t.Fatalf("batches = %+v", plan.Batches)
	}
	if plan.Batches[0][0].Canonical != "+15551234567" {
		t.Fatalf("first entry = %+v, want submission order preserved", plan.Batches[0][0])
	}
}

func TestPlanFromPhonesSplitsBatches(t *testing.T) {
	phones := make([]string, 250)
	for i := range phones {
		phones[i] = fmt.Sprintf("+1555%07d", 2000000+i)
	}
	plan, err := PlanFromPhones(phones, MinBatchSize)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(plan.Batches))
	}
	if len(plan.Batches[0]) != 100 || len(plan.Batches[2]) != 50 {
		t.Fatalf("batch sizes = %d, %d, %d", len(plan.Batches[0]), len(plan.Batches[1]), len(plan.Batches[2]))
	}
}

func TestPlanFromPhonesRejectsEmptyAndOversized(t *testing.T) {
	if _, err := PlanFromPhones(nil, 0); apperrors.CodeOf(err) != apperrors.CodeEmptyInput {
		t.Fatalf("empty err = %v", err)
	}
	big := make([]string, MaxEntries+1)
	if _, err := PlanFromPhones(big, 0); apperrors.CodeOf(err) != apperrors.CodeTooManyEntries {
		t.Fatalf("oversized err = %v", err)
	}
}

func TestPlanFromDigests(t *testing.T) {
	valid := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	plan, err := PlanFromDigests([]string{valid, valid, "not-hex"}, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.TotalAccepted != 1 {
		t.Fatalf("accepted = %d, want 1", plan.TotalAccepted)
	}
	if len(plan.DuplicateRaws) != 1 {
		t.Fatalf("duplicates = %+v", plan.DuplicateRaws)
	}
	if len(plan.Invalid) != 1 || plan.Invalid[0].Raw != "not-hex" {
		t.Fatalf("invalid = %+v", plan.Invalid)
	}
	if plan.Batches[0][0].Canonical != "" {
		t.Fatal("digest entries must not carry a canonical number")
	}
}

func TestClampBatchSize(t *testing.T) {
	cases := map[int]int{
		0:    DefaultBatchSize,
		1:    MinBatchSize,
		100:  100,
		750:  750,
		5000: MaxBatchSize,
	}
	for in, want := range cases {
		if got := ClampBatchSize(in); got != want {
			t.Errorf("ClampBatchSize(%d) = %d, want %d", in, got, want)
		}
	}
}
