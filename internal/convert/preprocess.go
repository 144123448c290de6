package convert

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/larksync/larksync/internal/block"
)

// frontMatterDelim delimits YAML front matter.
const frontMatterDelim = "---"

// FrontMatterPair is one key/value of the document's front matter, in
// source order.
type FrontMatterPair struct {
	Key   string
	Value string
}

// extractFrontMatter splits leading `--- ... ---` YAML front matter off the
// source. Returns the ordered pairs and the remaining document. A missing
// or malformed front matter block returns nil pairs and the input unchanged.
func extractFrontMatter(src string) ([]FrontMatterPair, string) {
	rest, ok := strings.CutPrefix(src, frontMatterDelim+"\n")
	if !ok {
		return nil, src
	}

	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return nil, src
	}

	yamlSrc := rest[:end]

	body := rest[end+len("\n"+frontMatterDelim):]
	body = strings.TrimPrefix(body, "\n")

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlSrc), &doc); err != nil {
		return nil, src
	}

	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, src
	}

	mapping := doc.Content[0]

	// Mapping content alternates key, value; yaml.Node preserves order.
	pairs := make([]FrontMatterPair, 0, len(mapping.Content)/2)

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		pairs = append(pairs, FrontMatterPair{
			Key:   mapping.Content[i].Value,
			Value: scalarString(mapping.Content[i+1]),
		})
	}

	return pairs, body
}

// scalarString renders a YAML value node as a flat string. Sequences join
// their items with ", "; nested structures fall back to their raw form.
func scalarString(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value
	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, c := range n.Content {
			items = append(items, scalarString(c))
		}

		return strings.Join(items, ", ")
	default:
		raw, err := yaml.Marshal(n)
		if err != nil {
			return ""
		}

		return strings.TrimSpace(string(raw))
	}
}

// frontMatterBlock renders front matter as a single Quote block: each key
// bold, followed by its value, one pair per line.
func frontMatterBlock(pairs []FrontMatterPair) *block.Block {
	var elements []block.TextElement

	for i, p := range pairs {
		if i > 0 {
			elements = append(elements, block.Run("\n"))
		}

		elements = append(elements,
			block.StyledRun(p.Key+": ", block.TextStyle{Bold: true}),
			block.Run(p.Value),
		)
	}

	return &block.Block{Type: block.TypeQuote, Text: &block.TextBody{Elements: elements}}
}

// wikiImageRe matches embedded wiki links: ![[file]] and ![[file|alt]].
var wikiImageRe = regexp.MustCompile(`!\[\[([^\]|]+?)(?:\|([^\]]+?))?\]\]`)

// rewriteWikiLinks converts embed wiki-link syntax into standard image
// syntax with spaces URL-encoded, so the CommonMark parser handles it.
func rewriteWikiLinks(src string) string {
	return wikiImageRe.ReplaceAllStringFunc(src, func(m string) string {
		groups := wikiImageRe.FindStringSubmatch(m)
		file := strings.TrimSpace(groups[1])
		alt := strings.TrimSpace(groups[2])

		if alt == "" {
			alt = file
		}

		return fmt.Sprintf("![%s](%s)", alt, strings.ReplaceAll(file, " ", "%20"))
	})
}

// listItemRe matches a list-item line and captures its indentation.
var listItemRe = regexp.MustCompile(`^(\s*)(?:[-*+]|\d+[.)])\s`)

// weakIndentRe matches a line indented by 2 or 3 spaces.
var weakIndentRe = regexp.MustCompile(`^( {2,3})(\S)`)

// normalizeIndent pads "weak" 2-3 space continuation indentation under a
// list item to 4 spaces so the CommonMark parser nests it. Authors commonly
// indent sublists by 2, which CommonMark treats as a sibling.
func normalizeIndent(lines []string) []string {
	out := make([]string, 0, len(lines))
	inList := false

	for _, line := range lines {
		switch {
		case listItemRe.MatchString(line):
			if m := weakIndentRe.FindStringSubmatch(line); inList && m != nil {
				line = "    " + line[len(m[1]):]
			}

			inList = true

		case strings.TrimSpace(line) == "":
			// A blank line does not terminate the surrounding list.

		case weakIndentRe.MatchString(line) && inList:
			m := weakIndentRe.FindStringSubmatch(line)
			line = "    " + line[len(m[1]):]

		default:
			if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
				inList = false
			}
		}

		out = append(out, line)
	}

	return out
}

// insertListBreaks inserts a blank line between a list-item line and a
// following non-list, non-indented, non-blank line, forcing paragraph
// termination. Without it CommonMark folds the next line into the item.
func insertListBreaks(lines []string) []string {
	out := make([]string, 0, len(lines)+4)

	for i, line := range lines {
		out = append(out, line)

		if !listItemRe.MatchString(line) || i+1 >= len(lines) {
			continue
		}

		next := lines[i+1]
		if strings.TrimSpace(next) == "" ||
			listItemRe.MatchString(next) ||
			strings.HasPrefix(next, " ") ||
			strings.HasPrefix(next, "\t") {
			continue
		}

		out = append(out, "")
	}

	return out
}

// Preprocess applies the source-level rewrites ahead of CommonMark parsing
// and returns the front matter (if any) plus the cleaned source.
func Preprocess(src string) ([]FrontMatterPair, string) {
	pairs, body := extractFrontMatter(src)

	body = rewriteWikiLinks(body)

	lines := strings.Split(body, "\n")
	lines = normalizeIndent(lines)
	lines = insertListBreaks(lines)

	return pairs, strings.Join(lines, "\n")
}
