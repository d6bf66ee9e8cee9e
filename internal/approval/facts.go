package approval

import (
	"fmt"

	"draftdesk/internal/models"
)

const factOriginalRunes = 100

// decisionFact renders the behavioral fact recorded for a decision.
func decisionFact(item models.DraftedItem, lane models.Lane, action Action, suggestion, final string) string {
	original := truncateRunes(item.BodyText, factOriginalRunes)
	if lane == models.LaneRewrite {
		topic := item.OriginQuery
		switch action {
		case ActionCancel:
			return fmt.Sprintf("User rejected AI repurposed content about '%s'. Original tweet: '%s...' AI repurposed: '%s'", topic, original, suggestion)
		case ActionConfirm:
			return fmt.Sprintf("User posted AI repurposed content about '%s' without changes. Original tweet: '%s...' AI repurposed: '%s'", topic, original, suggestion)
		default:
			return fmt.Sprintf("User edited AI repurposed content about '%s' before posting. Original tweet: '%s...' AI repurposed: '%s' User changed to: '%s'", topic, original, suggestion, final)
		}
	}

	author := item.AuthorHandle
	switch action {
	case ActionCancel:
		return fmt.Sprintf("User rejected AI reply to @%s. Original tweet: '%s...' AI suggestion: '%s'", author, original, suggestion)
	case ActionConfirm:
		return fmt.Sprintf("User posted AI reply to @%s without changes. Original tweet: '%s...' AI suggestion: '%s'", author, original, suggestion)
	default:
		return fmt.Sprintf("User edited AI reply to @%s before posting. Original tweet: '%s...' AI suggestion: '%s' User changed to: '%s'", author, original, suggestion, final)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
