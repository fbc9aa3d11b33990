package topics

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Submission limits applied when no explicit Limits are configured.
const (
	DefaultMinTexts      = 10
	DefaultMaxTexts      = 50000
	DefaultMaxTextLength = 5000
)

// Limits bounds the texts accepted for a job.
type Limits struct {
	MinTexts      int
	MaxTexts      int
	MaxTextLength int
}

// DefaultLimits returns the standard submission limits.
func DefaultLimits() Limits {
	return Limits{
		MinTexts:      DefaultMinTexts,
		MaxTexts:      DefaultMaxTexts,
		MaxTextLength: DefaultMaxTextLength,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MinTexts <= 0 {
		l.MinTexts = DefaultMinTexts
	}
	if l.MaxTexts <= 0 {
		l.MaxTexts = DefaultMaxTexts
	}
	if l.MaxTextLength <= 0 {
		l.MaxTextLength = DefaultMaxTextLength
	}
	return l
}

// Error codes carried by PrepareTexts failures.
const (
	CodeTooFewTexts  = "TOO_FEW_TEXTS"
	CodeTooManyTexts = "TOO_MANY_TEXTS"
)

// TextsError is an InvalidInput failure with a client-facing code.
type TextsError struct {
	Code  string
	Count int
	Limit int
}

func (e *TextsError) Error() string {
	if e.Code == CodeTooManyTexts {
		return "too many texts: got " + strconv.Itoa(e.Count) + ", maximum is " + strconv.Itoa(e.Limit)
	}
	return "too few texts: got " + strconv.Itoa(e.Count) + ", minimum is " + strconv.Itoa(e.Limit)
}

// PrepareTexts trims texts, drops blank entries and truncates each to the
// maximum length in runes. The count is checked against the limits both
// before and after filtering.
func PrepareTexts(texts []string, limits Limits) ([]string, error) {
	const op = "PrepareTexts"
	l := limits.withDefaults()

	if err := checkCount(len(texts), l); err != nil {
		return nil, Wrap(op, KindInvalidInput, err)
	}

	out := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > l.MaxTextLength {
			t = string([]rune(t)[:l.MaxTextLength])
		}
		out = append(out, t)
	}

	if err := checkCount(len(out), l); err != nil {
		return nil, Wrap(op, KindInvalidInput, err)
	}
	return out, nil
}

func checkCount(n int, l Limits) error {
	if n < l.MinTexts {
		return &TextsError{Code: CodeTooFewTexts, Count: n, Limit: l.MinTexts}
	}
	if n > l.MaxTexts {
		return &TextsError{Code: CodeTooManyTexts, Count: n, Limit: l.MaxTexts}
	}
	return nil
}
