package reminder

import (
	"strings"
	"time"
)

// renderTemplate substitutes the {AccountName}, {AccountId} and {Now}
// placeholders in a message template.
func renderTemplate(tmpl, accountName, accountID string, now time.Time) string {
	return strings.NewReplacer(
		"{AccountName}", accountName,
		"{AccountId}", accountID,
		"{Now}", now.Format(time.RFC1123),
	).Replace(tmpl)
}
