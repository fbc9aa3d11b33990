package labeler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/topichub/pkg/openaicompat"
	"github.com/3leaps/topichub/pkg/topics"
)

// Chat defaults.
const (
	DefaultChatModel   = "gpt-4o"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000
)

// ChatConfig configures the chat-model Labeler.
type ChatConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Client settings (base URL, key, retries, rate limit).
	Client openaicompat.Config
}

// Chat labels clusters with an OpenAI-compatible chat completions model.
type Chat struct {
	cfg    ChatConfig
	client *openaicompat.Client
}

var _ Labeler = (*Chat)(nil)

// NewChat returns a chat Labeler. It fails with openaicompat.ErrNoAPIKey when
// the client has no key; use Keywords instead in that case.
func NewChat(cfg ChatConfig) (*Chat, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	c := openaicompat.New(cfg.Client)
	if !c.HasKey() {
		return nil, openaicompat.ErrNoAPIKey
	}
	return &Chat{cfg: cfg, client: c}, nil
}

func (c *Chat) Name() string { return c.cfg.Model }

const labelSystemPrompt = `You are an expert in text analytics.
You analyse groups of texts (clusters) collected from a customer contact centre.
For each group:
1. Give a short, descriptive category name (at most 5 words), in the language of the texts.
2. Write a one-sentence description of the category.
3. Avoid generic names such as "Other" or "Miscellaneous".
4. Reply ONLY with valid JSON and no other text.`

const refineSystemPrompt = `You are an expert in optimising text categorisation.
You review the result of clustering documents from a customer contact centre and propose improvements:
1. MERGE - two clusters are thematically very similar
2. SPLIT - a cluster clearly contains two thematic subgroups
3. RENAME - a name is unclear or inadequate
4. RECLASSIFY - some documents fit another cluster better
Give each suggestion a confidence between 0.0 and 1.0. Propose at most 5 suggestions.
Reply ONLY with valid JSON and no other text.`

var focusDescriptions = map[string]string{
	"coherence":   "cluster coherence (look for incoherent clusters)",
	"granularity": "level of detail (too many or too few clusters?)",
	"naming":      "quality of category names",
	"outliers":    "uncategorised documents and potential reclassifications",
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Chat) complete(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	var resp chatResponse
	if err := c.client.PostJSON(ctx, "chat/completions", req, &resp); err != nil {
		return "", topics.Wrap("ChatCompletion", topics.KindUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", topics.Errorf("ChatCompletion", topics.KindUpstreamUnavailable, "empty reply from %s", c.cfg.Model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Chat) Label(ctx context.Context, s ClusterSummary) (Label, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster %d (%d documents, coherence: %d%%):\n\nRepresentative texts:\n",
		s.ID, s.DocumentCount, int(s.Coherence*100))
	for i, t := range s.SampleTexts[:min(5, len(s.SampleTexts))] {
		fmt.Fprintf(&b, "%d. %q\n", i+1, t)
	}
	fmt.Fprintf(&b, "\nTF-IDF keywords: %s\n\n", strings.Join(s.Keywords[:min(7, len(s.Keywords))], ", "))
	b.WriteString(`Reply with the label and description as JSON: {"label": "...", "description": "..."}`)

	reply, err := c.complete(ctx, labelSystemPrompt, b.String())
	if err != nil {
		return Label{}, err
	}
	var out Label
	if err := decodeLenient(reply, &out); err != nil {
		return Label{}, topics.Wrap("Label", topics.KindUpstreamUnavailable, err)
	}
	return out, nil
}

func (c *Chat) SuggestImprovements(ctx context.Context, topicSet []topics.Topic, stats Stats) (*topics.Refinement, error) {
	reply, err := c.complete(ctx, refineSystemPrompt, refinePrompt(topicSet, stats))
	if err != nil {
		return nil, err
	}
	raw, err := parseSuggestions(reply)
	if err != nil {
		return nil, topics.Wrap("SuggestImprovements", topics.KindUpstreamUnavailable, err)
	}
	return &topics.Refinement{
		Suggestions: SanitizeSuggestions(raw),
		Analysis:    Analyze(topicSet, stats.FocusAreas),
	}, nil
}

func refinePrompt(topicSet []topics.Topic, stats Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Clustering result (%d documents, %d clusters):\n\n", stats.TotalDocuments, len(topicSet))
	for _, t := range topicSet {
		desc := t.Description
		if desc == "" {
			desc = "none"
		}
		fmt.Fprintf(&b, "Cluster %d: %q (%d docs, coherence: %d%%)\n  Description: %s\n  Keywords: %s\n  Sample texts:\n",
			t.ID, t.Label, t.DocumentCount, int(t.CoherenceScore*100), desc, strings.Join(t.Keywords, ", "))
		for _, s := range t.SampleTexts[:min(3, len(t.SampleTexts))] {
			fmt.Fprintf(&b, "  - %q\n", s)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Uncategorised documents (noise): %d\n\n", stats.Noise)

	if len(stats.FocusAreas) > 0 {
		items := make([]string, len(stats.FocusAreas))
		for i, f := range stats.FocusAreas {
			if d, ok := focusDescriptions[f]; ok {
				items[i] = d
			} else {
				items[i] = f
			}
		}
		fmt.Fprintf(&b, "Focus especially on: %s\n\n", strings.Join(items, ", "))
	}
	if len(stats.Previous) > 0 {
		b.WriteString("These suggestions were already proposed (do NOT repeat them):\n")
		for _, p := range stats.Previous {
			fmt.Fprintf(&b, "- [%s] %s\n", p.Type, p.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Propose improvements as JSON:
{"suggestions": [{"type": "merge|split|rename|reclassify", "description": "...", "targetClusterIds": [1, 2], "suggestedLabel": "optional new name", "confidence": 0.82}]}`)
	return b.String()
}

// decodeLenient unmarshals reply, retrying on the outermost {...} or [...]
// span when the model wrapped the JSON in prose.
func decodeLenient(reply string, v any) error {
	err := json.Unmarshal([]byte(reply), v)
	if err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(reply, pair[0])
		end := strings.LastIndex(reply, pair[1])
		if start >= 0 && end > start {
			if json.Unmarshal([]byte(reply[start:end+1]), v) == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("reply is not JSON: %w", err)
}

// parseSuggestions accepts {"suggestions": [...]}, {"items": [...]} or a
// bare array, with loosely typed fields.
func parseSuggestions(reply string) ([]topics.Suggestion, error) {
	var doc any
	if err := decodeLenient(reply, &doc); err != nil {
		return nil, err
	}

	var items []any
	switch d := doc.(type) {
	case []any:
		items = d
	case map[string]any:
		if s, ok := d["suggestions"].([]any); ok {
			items = s
		} else if s, ok := d["items"].([]any); ok {
			items = s
		}
	default:
		return nil, errors.New("reply is neither an object nor an array")
	}

	out := make([]topics.Suggestion, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		s := topics.Suggestion{
			Type:             topics.SuggestRename,
			Confidence:       DefaultSuggestionWeight,
			TargetClusterIDs: []int{},
		}
		if v, ok := m["type"].(string); ok {
			s.Type = topics.SuggestionType(strings.ToLower(strings.TrimSpace(v)))
		}
		if v, ok := m["description"].(string); ok {
			s.Description = v
		}
		if v, ok := m["suggestedLabel"].(string); ok {
			s.SuggestedLabel = v
		}
		if v, ok := m["confidence"].(float64); ok {
			s.Confidence = v
		}
		if ids, ok := m["targetClusterIds"].([]any); ok {
			for _, id := range ids {
				if f, ok := id.(float64); ok {
					s.TargetClusterIDs = append(s.TargetClusterIDs, int(f))
				}
			}
		}
		out = append(out, s)
	}
	return out, nil
}
