package chunk

import "regexp"

// Matches [[target]] and [[target|alias]]; the capture excludes the alias.
var wikiLinkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)

// ExtractLinks returns the wiki-link targets found in text, aliases
// stripped, deduplicated while preserving first-occurrence order.
func ExtractLinks(text string) []string {
	matches := wikiLinkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	var links []string
	for _, m := range matches {
		target := m[1]
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		links = append(links, target)
	}
	return links
}
