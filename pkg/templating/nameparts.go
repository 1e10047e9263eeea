package templating

import (
	"regexp"
	"strings"
)

var namePrefixPattern = regexp.MustCompile(`(?i)^(Mr\.|Mr|Ms\.|Ms|Mrs\.|Mrs|Dr\.|Dr|Prof\.|Prof|Sir|Madam|Eng\.|Eng)\b\.?`)

// ExtractNameParts splits a contact's full name into a (prefix, name) pair
// for the "Dear {{prefix}} {{name}}" greeting line, grounded on
// original_source/main.py's extract_name_parts_with_prefix.
//
// If a title (Mr, Dr, ...) is found at the start, it is returned as the
// prefix alongside the surname. Otherwise the first word fills the prefix
// slot and the remainder fills the name slot, so "Dear {{prefix}} {{name}}"
// still reads naturally for untitled names (e.g. "Dear Hatem Ayman").
func ExtractNameParts(fullName string) (prefix, name string) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return "", ""
	}

	if match := namePrefixPattern.FindString(fullName); match != "" {
		found := strings.TrimSpace(match)
		remainder := strings.TrimSpace(fullName[len(match):])

		var parts []string
		if strings.Contains(remainder, ",") {
			parts = strings.Split(remainder, ",")
		} else {
			parts = strings.Fields(remainder)
		}

		lastName := remainder
		if len(parts) > 0 {
			lastName = strings.TrimSpace(parts[len(parts)-1])
		}

		if !strings.HasSuffix(found, ".") && len(found) <= 3 {
			found += "."
		}

		return titleCase(found), titleCase(lastName)
	}

	if strings.Contains(fullName, ",") {
		parts := strings.SplitN(fullName, ",", 2)
		return titleCase(strings.TrimSpace(parts[0])), titleCase(strings.TrimSpace(parts[len(parts)-1]))
	}

	parts := strings.Fields(fullName)
	switch {
	case len(parts) >= 2:
		return titleCase(parts[0]), titleCase(strings.Join(parts[1:], " "))
	case len(parts) == 1:
		return "", titleCase(fullName)
	default:
		return "", ""
	}
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		if len(r) > 0 {
			r[0] = []rune(strings.ToUpper(string(r[0])))[0]
			words[i] = string(r)
		}
	}
	return strings.Join(words, " ")
}
