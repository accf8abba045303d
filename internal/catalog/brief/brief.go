package brief

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/memoryhub/memoryhub/internal/idgen"
	"github.com/memoryhub/memoryhub/internal/memtypes"
	"github.com/memoryhub/memoryhub/internal/storage/sqlite"
)

// cacheCapacity and cacheTTL bound the brief cache (spec §4.6: "LRU with
// capacity 256 entries and 30-minute TTL; eviction on either bound").
const (
	cacheCapacity = 256
	cacheTTL      = 30 * time.Minute
)

const (
	topFileCount      = 8
	topEdgeCount      = 16
	minEdgeConfidence = 0.5
)

// cachedEntry is the immutable, freshness-derived part of a brief; the
// volatile fields (pending_jobs, consistency_status) are overlaid fresh on
// every hit rather than cached (spec §4.6).
type cachedEntry struct {
	Brief          string
	Evidence       []string
	CatalogVersion string
}

// Cache is the process-global catalog-brief cache. The L1 tier is an
// in-process expirable LRU; an optional L2 Redis tier is consulted on an L1
// miss and populated on an L1 write, mirroring
// ipiton-alert-history-service's TwoTierTemplateCache.
type Cache struct {
	mu    sync.Mutex
	l1    *expirable.LRU[string, cachedEntry]
	redis *redis.Client
}

// NewCache builds a Cache. redisClient may be nil to run L1-only.
func NewCache(redisClient *redis.Client) *Cache {
	return &Cache{
		l1:    expirable.NewLRU[string, cachedEntry](cacheCapacity, nil, cacheTTL),
		redis: redisClient,
	}
}

func cacheKey(prompt, projectID, catalogVersion string, taskType memtypes.TaskType, tokenBudget int) string {
	sum := sha256.Sum256([]byte(prompt))
	return strings.Join([]string{
		hex.EncodeToString(sum[:]), string(taskType), strconv.Itoa(tokenBudget), catalogVersion, projectID,
	}, "|")
}

func (c *Cache) get(ctx context.Context, key string) (cachedEntry, bool) {
	c.mu.Lock()
	entry, ok := c.l1.Get(key)
	c.mu.Unlock()
	if ok {
		return entry, true
	}
	if c.redis == nil {
		return cachedEntry{}, false
	}
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return cachedEntry{}, false
	}
	parts := strings.SplitN(raw, "\x00", 2)
	if len(parts) != 2 {
		return cachedEntry{}, false
	}
	entry = cachedEntry{Brief: parts[0], CatalogVersion: parts[1]}
	c.mu.Lock()
	c.l1.Add(key, entry)
	c.mu.Unlock()
	return entry, true
}

func (c *Cache) put(ctx context.Context, key string, entry cachedEntry) {
	c.mu.Lock()
	c.l1.Add(key, entry)
	c.mu.Unlock()
	if c.redis != nil {
		_ = c.redis.Set(ctx, key, entry.Brief+"\x00"+entry.CatalogVersion, cacheTTL).Err()
	}
}

var wordPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

func promptTerms(prompt string) []string {
	matches := wordPattern.FindAllString(strings.ToLower(prompt), -1)
	seen := map[string]bool{}
	var terms []string
	for _, m := range matches {
		if len(m) < 2 || seen[m] {
			continue
		}
		seen[m] = true
		terms = append(terms, m)
	}
	return terms
}

type scoredFile struct {
	memtypes.CatalogFile
	Score float64
}

// scoreFiles implements spec §4.6's scoring formula and returns the top
// topFileCount files by score, ties broken by path for determinism.
func scoreFiles(files []memtypes.CatalogFile, edges []memtypes.CatalogEdge, taskType memtypes.TaskType, terms []string) []scoredFile {
	scores := make(map[string]float64, len(files))
	for _, f := range files {
		scores[f.Path] = 0.05 * float64(f.ImportCount)
	}
	lowerPath := make(map[string]string, len(files))
	for _, f := range files {
		lowerPath[f.Path] = strings.ToLower(f.Path)
	}

	for _, f := range files {
		path := lowerPath[f.Path]
		for _, term := range terms {
			if strings.Contains(path, term) {
				scores[f.Path] += 3.0
			}
		}
		if (taskType == memtypes.TaskTest || taskType == memtypes.TaskReview) &&
			(strings.Contains(path, "test") || strings.Contains(path, "spec")) {
			scores[f.Path] += 2.0
		}
		if taskType == memtypes.TaskImplement && (strings.Contains(path, "src/") || strings.Contains(path, "lib/")) {
			scores[f.Path] += 1.0
		}
	}

	for _, e := range edges {
		module := strings.ToLower(e.ToModule)
		for _, term := range terms {
			if strings.Contains(module, term) {
				scores[e.FromFile] += 1.5
				break
			}
		}
	}

	scored := make([]scoredFile, 0, len(files))
	for _, f := range files {
		scored = append(scored, scoredFile{CatalogFile: f, Score: scores[f.Path]})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Path < scored[j].Path
	})
	if len(scored) > topFileCount {
		scored = scored[:topFileCount]
	}
	return scored
}

// selectEdges returns up to topEdgeCount edges whose FromFile is among the
// selected files and whose confidence meets the floor, highest confidence
// first (spec §4.6).
func selectEdges(edges []memtypes.CatalogEdge, selected []scoredFile) []memtypes.CatalogEdge {
	in := make(map[string]bool, len(selected))
	for _, f := range selected {
		in[f.Path] = true
	}
	var out []memtypes.CatalogEdge
	for _, e := range edges {
		if in[e.FromFile] && e.Confidence >= minEdgeConfidence {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].FromFile != out[j].FromFile {
			return out[i].FromFile < out[j].FromFile
		}
		return out[i].ToModule < out[j].ToModule
	})
	if len(out) > topEdgeCount {
		out = out[:topEdgeCount]
	}
	return out
}

// shortCatalogVersion renders the catalog_version hash as a compact
// base36 tag for the brief header, the same base36-from-hash-bytes idiom
// the teacher uses for its own issue hash IDs (internal/idgen.EncodeBase36),
// repurposed here since catalog_version has no human-friendly short form of
// its own.
func shortCatalogVersion(catalogVersion string) string {
	raw, err := hex.DecodeString(strings.TrimPrefix(catalogVersion, "sha256:"))
	if err != nil || len(raw) == 0 {
		return ""
	}
	return idgen.EncodeBase36(raw, 8)
}

func render(files []scoredFile, edges []memtypes.CatalogEdge, tokenBudget int, catalogVersion string) string {
	var b strings.Builder
	if short := shortCatalogVersion(catalogVersion); short != "" {
		fmt.Fprintf(&b, "Catalog %s:\n", short)
	}
	b.WriteString("Files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s (score: %.2f)\n", f.Path, f.Score)
	}
	b.WriteString("Edges:\n")
	for _, e := range edges {
		fmt.Fprintf(&b, "- %s -> %s\n", e.FromFile, e.ToModule)
	}
	return truncateBytes(b.String(), maxBriefBytes(tokenBudget))
}

func maxBriefBytes(tokenBudget int) int {
	limit := tokenBudget * 4
	if limit < 300 {
		limit = 300
	}
	return limit
}

const truncationSuffix = "\n... (truncated)"

func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(truncationSuffix)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationSuffix
}

// Generate implements catalog.brief.generate (spec §4.6).
func Generate(ctx context.Context, store *sqlite.Store, cache *Cache, taskPrompt string, taskType memtypes.TaskType, tokenBudget int) (*memtypes.CatalogBriefResult, error) {
	health, err := EnsureFresh(ctx, store)
	if err != nil {
		return nil, err
	}

	result := &memtypes.CatalogBriefResult{
		CatalogVersion:    health.CatalogVersion,
		Freshness:         health.Freshness,
		PendingJobs:       health.PendingJobs,
		ConsistencyStatus: health.ConsistencyStatus,
	}

	projectMeta, err := store.GetProjectMeta(ctx)
	if err != nil {
		return nil, err
	}

	if health.Freshness == memtypes.FreshnessFresh && cache != nil {
		key := cacheKey(taskPrompt, projectMeta.ProjectID, health.CatalogVersion, taskType, tokenBudget)
		if entry, ok := cache.get(ctx, key); ok {
			result.CatalogBrief = entry.Brief
			result.Evidence = entry.Evidence
			result.CacheHit = true
			return result, nil
		}
	}

	files, err := store.ListCatalogFiles(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := store.ListCatalogEdges(ctx)
	if err != nil {
		return nil, err
	}

	terms := promptTerms(taskPrompt)
	selectedFiles := scoreFiles(files, edges, taskType, terms)
	selectedEdges := selectEdges(edges, selectedFiles)

	evidence := make([]string, len(selectedFiles))
	for i, f := range selectedFiles {
		evidence[i] = f.Path
	}

	result.CatalogBrief = render(selectedFiles, selectedEdges, tokenBudget, health.CatalogVersion)
	result.Evidence = evidence

	if health.Freshness == memtypes.FreshnessFresh && cache != nil {
		key := cacheKey(taskPrompt, projectMeta.ProjectID, health.CatalogVersion, taskType, tokenBudget)
		cache.put(ctx, key, cachedEntry{Brief: result.CatalogBrief, Evidence: evidence, CatalogVersion: health.CatalogVersion})
	}

	if health.Freshness != memtypes.FreshnessFresh && health.PendingJobs == 0 {
		if err := store.RunInTransaction(ctx, func(tx *sqlite.Tx) error {
			_, err := tx.EnqueueCatalogJob(ctx, "incremental_refresh", nil)
			return err
		}); err != nil {
			return nil, err
		}
		result.RefreshRequested = true
	}

	return result, nil
}
