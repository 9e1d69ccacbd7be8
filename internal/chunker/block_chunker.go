package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"docrag/internal/domain"
)

// Default token budgets for retrieval-sized chunks.
const (
	DefaultMaxTokens     = 600
	DefaultMinTokens     = 120
	DefaultOverlapTokens = 60
)

// tableMarker tags lines carrying serialized table rows from extraction.
const tableMarker = "CSV:"

var (
	headingRe = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	tokenRe   = regexp.MustCompile(`\w+|\S`)
)

// BlockChunker splits page text into structural blocks (headings, table
// lines, paragraphs) and merges them into token-bounded chunks with overlap.
// Token counts are a word-or-punctuation proxy, not model-tokenizer-exact;
// the budgets are sizing heuristics, not hard model limits.
type BlockChunker struct {
	maxTokens     int
	minTokens     int
	overlapTokens int
}

func NewBlockChunker(maxTokens, minTokens, overlapTokens int) *BlockChunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if minTokens < 0 {
		minTokens = DefaultMinTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}
	return &BlockChunker{
		maxTokens:     maxTokens,
		minTokens:     minTokens,
		overlapTokens: overlapTokens,
	}
}

// ChunkPage processes one page atomically into ordered chunk records.
// An empty or whitespace-only page yields no chunks. Re-running on identical
// input yields byte-identical chunks and IDs.
func (c *BlockChunker) ChunkPage(fileID string, pageNo int, text string) []domain.Chunk {
	texts := c.mergeWindows(splitBlocks(text))
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, domain.Chunk{
			ChunkID: ChunkID(fileID, pageNo, i, t),
			FileID:  fileID,
			PageNo:  pageNo,
			Ord:     i,
			NTokens: tokenCount(t),
			Text:    t,
		})
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

// ChunkDocument chunks each page in order and concatenates the results.
func (c *BlockChunker) ChunkDocument(pages []domain.Page) []domain.Chunk {
	var all []domain.Chunk
	for _, p := range pages {
		all = append(all, c.ChunkPage(p.FileID, p.PageNo, p.Text)...)
	}
	return all
}

// splitBlocks scans lines into structural blocks: table-marker lines and
// headings stand alone, blank lines close the current paragraph run, and
// consecutive plain lines accumulate into one block.
func splitBlocks(text string) []string {
	var blocks []string
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if b := strings.TrimSpace(strings.Join(buf, "\n")); b != "" {
			blocks = append(blocks, b)
		}
		buf = buf[:0]
	}
	for _, ln := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(ln)
		switch {
		case strings.HasPrefix(trimmed, tableMarker):
			flush()
			blocks = append(blocks, trimmed)
		case headingRe.MatchString(ln):
			flush()
			blocks = append(blocks, trimmed)
		case trimmed == "":
			flush()
		default:
			buf = append(buf, ln)
		}
	}
	flush()
	return blocks
}

// mergeWindows accumulates blocks into token-bounded windows. Closing a
// window seeds the next one with the trailing overlap tokens of the closed
// chunk; the duplication preserves context continuity across boundaries.
// A trailing chunk under the minimum merges backward into the penultimate
// chunk instead of being emitted as an undersized fragment.
func (c *BlockChunker) mergeWindows(blocks []string) []string {
	var chunks []string
	var cur []string
	curTokens := 0
	for _, b := range blocks {
		bt := tokenCount(b)
		if curTokens+bt > c.maxTokens && len(cur) > 0 {
			closed := strings.TrimSpace(strings.Join(cur, "\n"))
			chunks = append(chunks, closed)
			cur = cur[:0]
			curTokens = 0
			if c.overlapTokens > 0 && closed != "" {
				tail := overlapTail(closed, c.overlapTokens)
				cur = append(cur, tail)
				curTokens = tokenCount(tail)
			}
		}
		cur = append(cur, b)
		curTokens += bt
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.TrimSpace(strings.Join(cur, "\n")))
	}
	if n := len(chunks); n > 1 && tokenCount(chunks[n-1]) < c.minTokens {
		chunks[n-2] = strings.TrimSpace(chunks[n-2] + "\n" + chunks[n-1])
		chunks = chunks[:n-1]
	}
	return chunks
}

// overlapTail returns the last n whitespace-delimited tokens of s.
func overlapTail(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}

// tokenCount is the cheap token proxy: word-or-punctuation matches, with a
// floor of one so no text counts as zero tokens.
func tokenCount(s string) int {
	if n := len(tokenRe.FindAllString(s, -1)); n > 0 {
		return n
	}
	return 1
}

// ChunkID derives the deterministic chunk identity from position and a
// digest of the content. Identical input reproduces identical IDs, so
// re-ingestion upserts instead of duplicating.
func ChunkID(fileID string, pageNo, ord int, text string) string {
	content := sha256.Sum256([]byte(text))
	digest := hex.EncodeToString(content[:])[:12]
	id := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", fileID, pageNo, ord, digest)))
	return hex.EncodeToString(id[:])
}

var _ domain.Chunker = (*BlockChunker)(nil)
