package notify

import (
	"fmt"

	"github.com/kenmeiwatch/kenmeiwatch/internal/diff"
)

// FormatUpdate renders the title and body of a release notification.
func FormatUpdate(u diff.Update) (title, message string) {
	message = fmt.Sprintf("%s | Ch. %s released!", u.Title, u.New)
	switch {
	case u.FirstSeen:
		title = "New series tracked"
	case u.Old != "":
		title = fmt.Sprintf("New chapter (was %s)", u.Old)
	default:
		title = "New chapter"
	}
	return title, message
}
