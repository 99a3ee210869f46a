package types

import (
	"errors"
	"fmt"
)

// ChecklistKind is the closed set of checklist value types.
type ChecklistKind string

const (
	ChecklistBool   ChecklistKind = "bool"
	ChecklistText   ChecklistKind = "text"
	ChecklistNumber ChecklistKind = "number"
	ChecklistChoice ChecklistKind = "choice"
)

// ErrChecklistInvalid wraps all checklist validation failures.
var ErrChecklistInvalid = errors.New("checklist invalid")

// ChecklistItem is one configured checklist question.
type ChecklistItem struct {
	Key      string        `json:"key"`
	Prompt   string        `json:"prompt"`
	Kind     ChecklistKind `json:"kind"`
	Options  []string      `json:"options,omitempty"`
	Required bool          `json:"required"`
}

// ChecklistAnswer is a tagged union: exactly the value field matching Kind
// must be set.
type ChecklistAnswer struct {
	Key         string        `json:"key"`
	Kind        ChecklistKind `json:"kind"`
	BoolValue   *bool         `json:"bool_value,omitempty"`
	TextValue   *string       `json:"text_value,omitempty"`
	NumberValue *float64      `json:"number_value,omitempty"`
	ChoiceValue *string       `json:"choice_value,omitempty"`
}

// Validate checks the answer's internal consistency against its kind.
func (a ChecklistAnswer) Validate() error {
	set := 0
	if a.BoolValue != nil {
		set++
	}
	if a.TextValue != nil {
		set++
	}
	if a.NumberValue != nil {
		set++
	}
	if a.ChoiceValue != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: answer %q must set exactly one value, got %d", ErrChecklistInvalid, a.Key, set)
	}

	switch a.Kind {
	case ChecklistBool:
		if a.BoolValue == nil {
			return fmt.Errorf("%w: answer %q kind is bool but bool_value is unset", ErrChecklistInvalid, a.Key)
		}
	case ChecklistText:
		if a.TextValue == nil {
			return fmt.Errorf("%w: answer %q kind is text but text_value is unset", ErrChecklistInvalid, a.Key)
		}
	case ChecklistNumber:
		if a.NumberValue == nil {
			return fmt.Errorf("%w: answer %q kind is number but number_value is unset", ErrChecklistInvalid, a.Key)
		}
	case ChecklistChoice:
		if a.ChoiceValue == nil {
			return fmt.Errorf("%w: answer %q kind is choice but choice_value is unset", ErrChecklistInvalid, a.Key)
		}
	default:
		return fmt.Errorf("%w: answer %q has unknown kind %q", ErrChecklistInvalid, a.Key, a.Kind)
	}
	return nil
}

// ValidateChecklist checks a set of answers against the configured items:
// every required item must be answered, every answer must reference a known
// item, match its kind, and choice answers must pick a configured option.
func ValidateChecklist(items []ChecklistItem, answers []ChecklistAnswer) error {
	byKey := make(map[string]ChecklistItem, len(items))
	for _, item := range items {
		byKey[item.Key] = item
	}

	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		item, ok := byKey[a.Key]
		if !ok {
			return fmt.Errorf("%w: answer %q does not match any checklist item", ErrChecklistInvalid, a.Key)
		}
		if answered[a.Key] {
			return fmt.Errorf("%w: duplicate answer for item %q", ErrChecklistInvalid, a.Key)
		}
		answered[a.Key] = true

		if a.Kind != item.Kind {
			return fmt.Errorf("%w: answer %q has kind %q, item expects %q", ErrChecklistInvalid, a.Key, a.Kind, item.Kind)
		}
		if err := a.Validate(); err != nil {
			return err
		}
		if item.Kind == ChecklistChoice {
			valid := false
			for _, opt := range item.Options {
				if opt == *a.ChoiceValue {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("%w: answer %q value %q is not a configured option", ErrChecklistInvalid, a.Key, *a.ChoiceValue)
			}
		}
	}

	for _, item := range items {
		if item.Required && !answered[item.Key] {
			return fmt.Errorf("%w: required item %q is unanswered", ErrChecklistInvalid, item.Key)
		}
	}
	return nil
}
