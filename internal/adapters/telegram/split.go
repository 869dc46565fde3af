package telegram

import "strings"

const messageLimit = 4096

// splitText cuts text into chunks of at most limit runes, breaking at the last
// newline inside each window when there is one.
func splitText(text string, limit int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = messageLimit
	}

	var parts []string
	for len(runes) > 0 {
		cut := len(runes)
		if cut > limit {
			cut = limit
			for i := limit; i > 0; i-- {
				if runes[i-1] == '\n' {
					cut = i
					break
				}
			}
		}
		if chunk := strings.Trim(string(runes[:cut]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		runes = runes[cut:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return parts
}
