package trigger

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"vtt-keyboard/internal/domain"
)

var validate = validator.New()

// cardRules mirrors the structural constraints on a card for the
// validator. Semantic constraints are checked separately.
type cardRules struct {
	ID    string `validate:"required"`
	Title string `validate:"required,max=100"`
}

// ValidateCard checks one trigger card for save. A keyword may contain
// at most one placeholder, and at least one non-empty variable is
// required so placeholder-less keywords can still resolve a value.
func ValidateCard(card domain.TriggerCard) error {
	if err := validate.Struct(cardRules{ID: card.ID, Title: card.Title}); err != nil {
		return fmt.Errorf("trigger card %q: %w", card.ID, err)
	}
	if strings.Count(card.Keyword, ValuePlaceholder) > 1 {
		return fmt.Errorf("trigger card %q: keyword has more than one %s placeholder", card.ID, ValuePlaceholder)
	}
	if _, ok := firstNonEmptyVariable(card.Variables); !ok {
		return fmt.Errorf("trigger card %q: at least one non-empty variable is required", card.ID)
	}
	return nil
}

// ValidateCards checks the whole list, rejecting duplicate ids.
func ValidateCards(cards []domain.TriggerCard) error {
	seen := make(map[string]bool, len(cards))
	for _, card := range cards {
		if err := ValidateCard(card); err != nil {
			return err
		}
		if seen[card.ID] {
			return fmt.Errorf("trigger card %q: duplicate id", card.ID)
		}
		seen[card.ID] = true
	}
	return nil
}

// MergeLocked applies an edited card list while guaranteeing that
// locked cards survive: a locked card missing from the edit is
// restored, and the locked flag itself cannot be cleared.
func MergeLocked(current, edited []domain.TriggerCard) []domain.TriggerCard {
	lockedByID := map[string]domain.TriggerCard{}
	for _, card := range current {
		if card.Locked {
			lockedByID[card.ID] = card
		}
	}

	out := make([]domain.TriggerCard, 0, len(edited))
	seen := map[string]bool{}
	for _, card := range edited {
		if _, isLocked := lockedByID[card.ID]; isLocked {
			card.Locked = true
		}
		out = append(out, card)
		seen[card.ID] = true
	}
	for _, card := range current {
		if card.Locked && !seen[card.ID] {
			out = append(out, card)
		}
	}
	return out
}
