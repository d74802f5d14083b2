package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	mockHeader   = "Draft response based on governed sources:"
	mockFallback = "- No evidence provided [S1]"
	mockFooter   = "\nThis is a draft pending human review."
	mockMaxLines = 3
)

var leadingTag = regexp.MustCompile(`^\[S\d+\]\s*`)

// MockClient drafts an answer by quoting the evidence blocks of a governed
// prompt. It is deterministic and needs no network.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lines []string
	if _, evidence, ok := strings.Cut(req.Prompt, "Evidence:"); ok {
		evidence, _, _ = strings.Cut(evidence, "Answer with citations.")
		for _, block := range strings.Split(strings.TrimSpace(evidence), "\n\n") {
			if len(lines) == mockMaxLines {
				break
			}
			first, _, _ := strings.Cut(block, "\n")
			first = strings.TrimSpace(leadingTag.ReplaceAllString(first, ""))
			if first == "" {
				continue
			}
			lines = append(lines, fmt.Sprintf("- %s [S%d]", first, len(lines)+1))
		}
	}

	body := mockFallback
	if len(lines) > 0 {
		body = strings.Join(lines, "\n")
	}
	return &Response{Text: strings.Join([]string{mockHeader, body, mockFooter}, "\n")}, nil
}
