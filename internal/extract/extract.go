package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tsawler/prose/v3"
	"github.com/vthunder/plexus/internal/llm"
	"github.com/vthunder/plexus/internal/logging"
)

// MaxInputChars bounds what we send to the model per capture
const MaxInputChars = 3000

// Extraction is the semantic digest of one captured input. Heuristic marks
// results produced without the model.
type Extraction struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Subjects  []string `json:"subjects"`
	Intent    string   `json:"intent"`
	Questions []string `json:"questions"`
	Heuristic bool     `json:"heuristic,omitempty"`
}

// Extractor turns raw captured text into an Extraction. The LLM path is
// best-effort; every failure lands on the heuristic path, so Extract never
// returns an error.
type Extractor struct {
	client llm.Client
}

func New(client llm.Client) *Extractor {
	return &Extractor{client: client}
}

// Extract digests text from one capture. sourceType is the capture origin
// (prompt, file_read, task, fetch) and only colors the prompt.
func (e *Extractor) Extract(ctx context.Context, text, sourceType string) Extraction {
	text = truncate(text, MaxInputChars)

	if e.client != nil && e.client.Available() {
		var out Extraction
		if err := llm.CompleteJSON(ctx, e.client, buildPrompt(text, sourceType), &out); err == nil {
			out = sanitize(out)
			if out.Title != "" {
				return out
			}
			logging.Debug("extract", "LLM returned empty title, using heuristic")
		} else {
			logging.Debug("extract", "LLM extraction failed, using heuristic: %v", err)
		}
	}

	return heuristicExtract(text)
}

func buildPrompt(text, sourceType string) string {
	var sb strings.Builder

	sb.WriteString(`You are extracting the semantic content of one input captured from a coding session.

Determine:
1. A short title (under 80 chars) naming what this input is about
2. A one-sentence summary
3. topics: 3-8 short lowercase keywords (technologies, components, actions)
4. subjects: the specific things being acted on (function names, files, features)
5. intent: one of question, instruction, report, exploration
6. questions: any open questions the input raises

`)
	sb.WriteString(fmt.Sprintf("Source type: %s\n\nInput:\n%s\n", sourceType, text))
	sb.WriteString(`
Return your analysis as JSON:

{
  "title": "JWT rotation for the auth middleware",
  "summary": "User wants refresh tokens rotated on every auth middleware pass.",
  "topics": ["jwt", "auth", "middleware"],
  "subjects": ["refreshToken", "authMiddleware"],
  "intent": "instruction",
  "questions": []
}

Use only words that appear in or follow from the input. Never echo template labels.
`)

	return sb.String()
}

// heuristicExtract builds an Extraction without the model
func heuristicExtract(text string) Extraction {
	topics := heuristicTopics(text)
	return sanitize(Extraction{
		Title:     firstSalientLine(text),
		Summary:   truncate(collapseSpace(text), 200),
		Topics:    topics,
		Subjects:  topics,
		Intent:    guessIntent(text),
		Heuristic: true,
	})
}

// firstSalientLine picks the first line that reads like content rather
// than markup, capped at 80 chars.
func firstSalientLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "#!") {
			continue
		}
		line = strings.TrimLeft(line, "#*>- \t")
		if len(line) < 3 {
			continue
		}
		return truncate(line, 80)
	}
	return "untitled capture"
}

var (
	snakeRe = regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9]*_[a-zA-Z0-9_]+\b`)
	camelRe = regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z0-9]*\b`)
	fileRe  = regexp.MustCompile(`\b[\w./-]+\.(?:go|py|ts|js|rs|java|rb|c|h|cpp|md|json|yaml|yml|toml|sql|sh)\b`)
	tickRe  = regexp.MustCompile("`([^`\n]{2,60})`")
)

// heuristicTopics mines entities, identifiers, and proper nouns from text
func heuristicTopics(text string) []string {
	var topics []string

	if doc, err := prose.NewDocument(text); err == nil {
		for _, ent := range doc.Entities() {
			topics = append(topics, ent.Text)
		}
	} else {
		logging.Debug("extract", "prose document failed: %v", err)
	}

	for _, re := range []*regexp.Regexp{snakeRe, camelRe, fileRe} {
		topics = append(topics, re.FindAllString(text, 6)...)
	}
	for _, m := range tickRe.FindAllStringSubmatch(text, 6) {
		topics = append(topics, m[1])
	}
	topics = append(topics, capitalizedTokens(text)...)

	return topics
}

// capitalizedTokens finds mid-sentence capitalized words, a cheap proper
// noun signal. First words after sentence breaks are skipped.
func capitalizedTokens(text string) []string {
	var out []string
	words := strings.Fields(text)
	for i, word := range words {
		clean := strings.Trim(word, ".,!?;:'\"()[]{}@#")
		runes := []rune(clean)
		if len(runes) < 2 || !unicode.IsUpper(runes[0]) || !unicode.IsLower(runes[1]) {
			continue
		}
		if i == 0 || strings.HasSuffix(words[i-1], ".") || strings.HasSuffix(words[i-1], "!") || strings.HasSuffix(words[i-1], "?") {
			continue
		}
		out = append(out, clean)
	}
	return out
}

func guessIntent(text string) string {
	t := strings.TrimSpace(text)
	if strings.Contains(t, "?") {
		return "question"
	}
	lower := strings.ToLower(t)
	for _, verb := range []string{"fix ", "add ", "implement ", "refactor ", "remove ", "update ", "write ", "make ", "change "} {
		if strings.HasPrefix(lower, verb) {
			return "instruction"
		}
	}
	return "report"
}

// denylist holds prompt-template artifacts and code-shape noise that the
// model or heuristics keep echoing back as topics.
var denylist = map[string]bool{
	"message": true, "contenu": true, "analyse": true, "fichier": true,
	"resume": true, "sujets": true, "titre": true, "intention": true,
	"summary": true, "title": true, "topics": true, "subjects": true,
	"intent": true, "questions": true, "input": true, "output": true,
	"json": true, "string": true, "func": true, "var": true, "const": true,
	"return": true, "true": true, "false": true, "nil": true, "null": true,
	"error": true, "test": true, "todo": true, "code": true, "file": true,
}

// sanitize normalizes topic/subject lists: lowercase, denylist, length and
// letter checks, dedupe, cap at 8.
func sanitize(x Extraction) Extraction {
	x.Title = strings.TrimSpace(x.Title)
	x.Summary = strings.TrimSpace(x.Summary)
	x.Topics = cleanTerms(x.Topics)
	x.Subjects = cleanTerms(x.Subjects)
	return x
}

func cleanTerms(terms []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(strings.Trim(t, ".,!?;:'\"()[]{}")))
		if len(t) < 3 || denylist[t] || seen[t] || !hasLetter(t) {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 8 {
			break
		}
	}
	return out
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
