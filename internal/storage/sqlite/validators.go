package sqlite

import (
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/internal/types"
)

// validateTask checks field constraints before insert or update.
func validateTask(t *types.Task) error {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		return fmt.Errorf("%w: title must not be empty", types.ErrInvalidInput)
	}
	if len([]rune(t.Title)) > types.MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", types.ErrInvalidInput, types.MaxTitleLength)
	}
	if hasControlChars(t.Title) {
		return fmt.Errorf("%w: title contains control characters", types.ErrInvalidInput)
	}
	if len([]rune(t.Description)) > types.MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", types.ErrInvalidInput, types.MaxDescriptionLength)
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", types.ErrInvalidInput, t.Status)
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", types.ErrInvalidInput, t.Priority)
	}
	if t.EstimatedHours != nil && *t.EstimatedHours < 0 {
		return fmt.Errorf("%w: estimated_hours must be non-negative", types.ErrInvalidInput)
	}
	if t.ActualHours != nil && *t.ActualHours < 0 {
		return fmt.Errorf("%w: actual_hours must be non-negative", types.ErrInvalidInput)
	}
	if err := validateFeedbackScore(t.FeedbackQuality, "feedback_quality"); err != nil {
		return err
	}
	if err := validateFeedbackScore(t.FeedbackTimeliness, "feedback_timeliness"); err != nil {
		return err
	}
	return nil
}

func validateFeedbackScore(score *int, field string) error {
	if score != nil && (*score < 1 || *score > 5) {
		return fmt.Errorf("%w: %s must be between 1 and 5", types.ErrInvalidInput, field)
	}
	return nil
}

// hasControlChars reports whether s contains control characters other than
// tab and newline.
func hasControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}
