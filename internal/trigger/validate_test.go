package trigger

import (
	"testing"

	"vtt-keyboard/internal/domain"
)

func TestValidateCardRejectsDoublePlaceholder(t *testing.T) {
	c := card("bad", "translate {value} into {value}", "English")
	if err := ValidateCard(c); err == nil {
		t.Fatal("keyword with two placeholders must be rejected")
	}
}

func TestValidateCardRequiresVariable(t *testing.T) {
	c := card("novars", "translate to {value}")
	c.Variables = []string{"", "   "}
	if err := ValidateCard(c); err == nil {
		t.Fatal("card without a non-empty variable must be rejected")
	}

	c.Variables = []string{"", "English"}
	if err := ValidateCard(c); err != nil {
		t.Fatalf("valid card rejected: %v", err)
	}
}

func TestValidateCardRequiresIdentity(t *testing.T) {
	c := card("", "translate to {value}", "English")
	if err := ValidateCard(c); err == nil {
		t.Fatal("card without id must be rejected")
	}
}

func TestValidateCardsRejectsDuplicates(t *testing.T) {
	cards := []domain.TriggerCard{
		card("dup", "translate to {value}", "English"),
		card("dup", "polish as {value}", "formal"),
	}
	if err := ValidateCards(cards); err == nil {
		t.Fatal("duplicate ids must be rejected")
	}
}

func TestMergeLockedRestoresDeletedCards(t *testing.T) {
	locked := card("translate", "translate to {value}", "English")
	locked.Locked = true
	custom := card("mine", "email to {value}", "boss")
	current := []domain.TriggerCard{locked, custom}

	// The edit drops the locked card and tries to unlock it indirectly.
	edited := []domain.TriggerCard{custom}
	merged := MergeLocked(current, edited)
	if len(merged) != 2 {
		t.Fatalf("merged = %d cards, want 2", len(merged))
	}
	found := false
	for _, c := range merged {
		if c.ID == "translate" && c.Locked {
			found = true
		}
	}
	if !found {
		t.Fatal("locked card was not restored")
	}
}

func TestMergeLockedKeepsLockedFlag(t *testing.T) {
	locked := card("translate", "translate to {value}", "English")
	locked.Locked = true

	edit := locked
	edit.Locked = false
	edit.Variables = []string{"French"}

	merged := MergeLocked([]domain.TriggerCard{locked}, []domain.TriggerCard{edit})
	if len(merged) != 1 {
		t.Fatalf("merged = %d cards", len(merged))
	}
	if !merged[0].Locked {
		t.Fatal("locked flag was cleared by the edit")
	}
	if merged[0].Variables[0] != "French" {
		t.Fatal("non-lock fields should accept the edit")
	}
}
