package usecase

import (
	"log/slog"
	"strings"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// truncationNotice marks content cut to fit its budget share. Added at
// most once per item: content already carrying the notice fits its
// share by construction and is never cut again.
const truncationNotice = "[truncated for budget]"

// codeTruncationMarker replaces the tail of an over-long code block.
const codeTruncationMarker = "... (truncated)"

const (
	maxCodeBlockLines  = 10
	keptCodeBlockLines = 5
)

// ContentItem is one selected piece of content, ordered by descending
// confidence by the caller.
type ContentItem struct {
	ID      string
	Content string
}

// AllocationResult reports what the allocator produced.
type AllocationResult struct {
	Fragments  []domain.Fragment
	BudgetUsed int
	DroppedIDs []string // items past maxFullInject or below the floor
}

// Allocator partitions a token ceiling across selected content items
// and fits each item's content deterministically under its share.
type Allocator struct {
	counter domain.TokenCounter
	cfg     config.BudgetConfig
	logger  *slog.Logger
}

// NewAllocator creates an allocator. counter must be deterministic.
func NewAllocator(counter domain.TokenCounter, cfg config.BudgetConfig, logger *slog.Logger) *Allocator {
	if cfg.MaxFullInject <= 0 {
		cfg.MaxFullInject = 2
	}
	if cfg.MinimumTokens <= 0 {
		cfg.MinimumTokens = 100
	}
	return &Allocator{counter: counter, cfg: cfg, logger: logger}
}

// Allocate splits totalBudget evenly across the first MaxFullInject
// items and fits each under its share. Items beyond the limit, and
// items whose remaining budget falls under the floor, are dropped from
// full-content inclusion (they may still surface as lightweight
// references elsewhere).
func (a *Allocator) Allocate(items []ContentItem, totalBudget int) AllocationResult {
	var result AllocationResult
	if len(items) == 0 || totalBudget <= 0 {
		return result
	}

	full := len(items)
	if full > a.cfg.MaxFullInject {
		full = a.cfg.MaxFullInject
		for _, item := range items[full:] {
			result.DroppedIDs = append(result.DroppedIDs, item.ID)
		}
	}
	share := totalBudget / full

	remaining := totalBudget
	for _, item := range items[:full] {
		if remaining < a.cfg.MinimumTokens {
			// A near-empty fragment is worse than none.
			result.DroppedIDs = append(result.DroppedIDs, item.ID)
			a.logger.Debug("skipping item under budget floor",
				"item", item.ID, "remaining", remaining, "floor", a.cfg.MinimumTokens)
			continue
		}

		itemShare := share
		if itemShare > remaining {
			itemShare = remaining
		}

		content := normalizeContent(item.Content)
		fitted, truncated := a.fitToShare(content, itemShare)
		tokens := a.counter.CountText(fitted)

		result.Fragments = append(result.Fragments, domain.Fragment{
			SkillID:   item.ID,
			Content:   fitted,
			Tokens:    tokens,
			Truncated: truncated,
		})
		result.BudgetUsed += tokens
		remaining -= tokens
	}
	return result
}

// fitToShare cuts content at the last paragraph boundary under share
// tokens and appends the truncation notice. Cutting mid-paragraph is
// avoided whenever any paragraph boundary exists before the limit;
// avoiding mid-sentence cuts is best effort only.
func (a *Allocator) fitToShare(content string, share int) (string, bool) {
	if a.counter.CountText(content) <= share {
		return content, false
	}
	if strings.Contains(content, truncationNotice) {
		// Already truncated upstream; never shrink further.
		return content, true
	}

	noticeTokens := a.counter.CountText(truncationNotice)
	limit := share - noticeTokens
	if limit < 0 {
		limit = 0
	}

	paragraphs := strings.Split(content, "\n\n")
	var kept []string
	used := 0
	for _, p := range paragraphs {
		pTokens := a.counter.CountText(p)
		if used+pTokens > limit {
			break
		}
		kept = append(kept, p)
		used += pTokens
	}

	if len(kept) == 0 {
		// No paragraph boundary before the limit: cut the first
		// paragraph at a sentence boundary, or hard-cut as a last resort.
		cut := a.cutWithinParagraph(paragraphs[0], limit)
		return cut + "\n\n" + truncationNotice, true
	}
	return strings.Join(kept, "\n\n") + "\n\n" + truncationNotice, true
}

// cutWithinParagraph keeps whole sentences while they fit, then falls
// back to a character cut sized by the token limit.
func (a *Allocator) cutWithinParagraph(paragraph string, limit int) string {
	sentences := strings.SplitAfter(paragraph, ". ")
	var b strings.Builder
	for _, s := range sentences {
		if a.counter.CountText(b.String()+s) > limit {
			break
		}
		b.WriteString(s)
	}
	if b.Len() > 0 {
		return strings.TrimRight(b.String(), " ")
	}

	// Hard cut: longest rune prefix under the limit.
	runes := []rune(paragraph)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.counter.CountText(string(runes[:mid])) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// normalizeContent applies the deterministic raw-content transforms:
// metadata header strip, reference-section strip, blank-line collapse,
// and code-block truncation. Idempotent by construction.
func normalizeContent(content string) string {
	content = stripFrontmatter(content)
	content = stripReferenceSections(content)
	content = truncateCodeBlocks(content)
	content = collapseBlankRuns(content)
	return strings.TrimSpace(content)
}

// stripFrontmatter removes a leading "---" delimited YAML header.
func stripFrontmatter(content string) string {
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, "---") {
		return content
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content
	}
	after := rest[end+4:]
	if nl := strings.IndexByte(after, '\n'); nl >= 0 {
		after = after[nl+1:]
	} else {
		after = ""
	}
	return after
}

// referenceHeadings are section titles dropped from injected content.
var referenceHeadings = map[string]bool{
	"references": true,
	"reference":  true,
	"resources":  true,
	"see also":   true,
	"related":    true,
}

// stripReferenceSections removes explicitly-marked reference-list
// sections: a matching heading and everything until the next heading.
func stripReferenceSections(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	skipping := false
	for _, line := range lines {
		if title, isHeading := headingTitle(line); isHeading {
			skipping = referenceHeadings[strings.ToLower(title)]
			if skipping {
				continue
			}
		}
		if !skipping {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func headingTitle(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "#")), true
}

// collapseBlankRuns reduces runs of 3+ blank lines to a single one.
// Shorter runs pass through unchanged.
func collapseBlankRuns(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	var run []string
	flush := func() {
		if len(run) >= 3 {
			out = append(out, "")
		} else {
			out = append(out, run...)
		}
		run = run[:0]
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			run = append(run, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()
	return strings.Join(out, "\n")
}

// truncateCodeBlocks shortens fenced code blocks longer than
// maxCodeBlockLines to their first keptCodeBlockLines plus a marker.
func truncateCodeBlocks(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	var block []string
	inBlock := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if !inBlock {
				inBlock = true
				out = append(out, line)
				block = block[:0]
				continue
			}
			// Closing fence.
			inBlock = false
			if len(block) > maxCodeBlockLines {
				out = append(out, block[:keptCodeBlockLines]...)
				out = append(out, codeTruncationMarker)
			} else {
				out = append(out, block...)
			}
			out = append(out, line)
			continue
		}
		if inBlock {
			block = append(block, line)
			continue
		}
		out = append(out, line)
	}
	if inBlock {
		// Unterminated fence: emit what we buffered, untouched.
		out = append(out, block...)
	}
	return strings.Join(out, "\n")
}
