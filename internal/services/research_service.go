package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/loomchat/loom/internal/llm"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ResearchService is the deep-research pre-stage: a two-round, gap-driven
// search pipeline whose digest is folded into the system context before the
// main completion runs.
type ResearchService struct {
	search *WebSearchService
	logger *zap.Logger
}

func NewResearchService(search *WebSearchService, logger *zap.Logger) *ResearchService {
	return &ResearchService{search: search, logger: logger}
}

// Run executes round 1, the gap analysis, and (when warranted) round 2.
// onQuery fires as each search is issued so the client sees progress through
// an otherwise multi-second opaque delay. Returns the concatenated digest and
// the total number of queries issued.
func (s *ResearchService) Run(ctx context.Context, client *llm.Client, model, searchKey, question string, onQuery func(string)) (string, int, error) {
	queries, err := s.generateQueries(ctx, client, model, question)
	if err != nil {
		return "", 0, fmt.Errorf("query generation failed: %w", err)
	}
	if len(queries) == 0 {
		return "", 0, fmt.Errorf("no search queries generated")
	}

	digest := s.runBatch(ctx, searchKey, queries, 1, onQuery)
	total := len(queries)

	followUps := s.gapAnalysis(ctx, client, model, question, digest)
	if len(followUps) > 0 {
		digest += s.runBatch(ctx, searchKey, followUps, total+1, onQuery)
		total += len(followUps)
	}

	return digest, total, nil
}

// generateQueries asks the provider for 3-4 targeted queries.
func (s *ResearchService) generateQueries(ctx context.Context, client *llm.Client, model, question string) ([]string, error) {
	prompt := fmt.Sprintf(`Generate 3 to 4 targeted web search queries that together would answer this question:

%s

Return a JSON object: {"queries": ["query one", "query two"]}`, question)

	resp, err := client.Complete(ctx, model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 0.3)
	if err != nil {
		return nil, err
	}
	queries := parseQueries(resp)
	if len(queries) > 4 {
		queries = queries[:4]
	}
	return queries, nil
}

// gapAnalysis asks whether up to 2 follow-up queries are warranted given the
// round-1 digest. An empty list means coverage is sufficient; any failure is
// treated the same way.
func (s *ResearchService) gapAnalysis(ctx context.Context, client *llm.Client, model, question, digest string) []string {
	prompt := fmt.Sprintf(`Question: %s

Search findings so far:
%s

Are there important gaps in these findings? If so, return up to 2 follow-up search queries as {"queries": ["..."]}. If coverage is sufficient, return {"queries": []}.`,
		question, digest)

	resp, err := client.Complete(ctx, model, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, 0.3)
	if err != nil {
		s.logger.Debug("gap analysis failed, skipping second round", zap.Error(err))
		return nil
	}
	followUps := parseQueries(resp)
	if len(followUps) > 2 {
		followUps = followUps[:2]
	}
	return followUps
}

// runBatch runs all queries concurrently with isolated failures: a failed
// query renders as a placeholder section instead of aborting the batch.
func (s *ResearchService) runBatch(ctx context.Context, searchKey string, queries []string, startIdx int, onQuery func(string)) string {
	sections := make([]string, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		if onQuery != nil {
			onQuery(q)
		}
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			resp, err := s.search.Search(ctx, searchKey, q, 4)
			if err != nil {
				s.logger.Debug("research query failed", zap.String("query", q), zap.Error(err))
				sections[i] = fmt.Sprintf("[Search %d: failed]\n", startIdx+i)
				return
			}
			sections[i] = formatSection(startIdx+i, q, resp)
		}(i, q)
	}
	wg.Wait()

	return strings.Join(sections, "\n")
}

func formatSection(n int, query string, resp *SearchResponse) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[Search %d: %s]\n", n, query))
	if resp.Answer != "" {
		sb.WriteString("Answer: " + truncateContent(resp.Answer, 500) + "\n")
	}
	results := resp.Results
	if len(results) > 4 {
		results = results[:4]
	}
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n   %s\n", i+1, r.Title, r.URL, r.Snippet))
	}
	return sb.String()
}

func parseQueries(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var wrapped struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil {
		return cleanFacts(wrapped.Queries)
	}
	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		return cleanFacts(bare)
	}
	return nil
}
