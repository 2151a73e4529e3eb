package reporter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"renewbot-backend/lib/textutil"
	"renewbot-backend/lib/timezone"
	"renewbot-backend/services/sites"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mazen160/go-random"
)

// ErrNotFound marks a page request against an unknown or expired result
// set. Callers must surface it distinctly from an empty result set.
var ErrNotFound = errors.New("result set not found or expired")

// PageSize is the number of user groups rendered per page.
const PageSize = 5

const (
	cacheSize = 256
	cacheTTL  = time.Minute * 30
)

type ResultSet struct {
	// uid -> siteId -> results
	Results map[string]map[string][]sites.RenewalResult
	// Names maps uid to display name for rendering.
	Names map[string]string
	// Title is free-form context shown at the top of every page.
	Title     string
	CreatedAt time.Time
}

type Page struct {
	ResultId   string
	Number     int
	TotalPages int
	Content    string
	HasPrev    bool
	HasNext    bool
}

// Reporter holds bulk batch results under opaque ids so an admin can
// page through them interactively. Entries expire on their own, the
// cache is bounded in both count and age.
type Reporter struct {
	cache *expirable.LRU[string, *ResultSet]
}

func New() *Reporter {
	return &Reporter{
		cache: expirable.NewLRU[string, *ResultSet](cacheSize, onEvict, cacheTTL),
	}
}

// onEvict removes the diagnostic artifacts referenced by an expired
// result set, they are only useful while the set is still pageable.
func onEvict(_ string, set *ResultSet) {
	for _, siteResults := range set.Results {
		for _, results := range siteResults {
			for _, result := range results {
				if result.ScreenshotPath == "" {
					continue
				}
				err := os.Remove(result.ScreenshotPath)
				if err != nil && !os.IsNotExist(err) {
					slog.Warn("failed to remove diagnostic artifact",
						"path", result.ScreenshotPath, "err", err)
				}
			}
		}
	}
}

// Register stores the result set and returns its first page.
func (r *Reporter) Register(set *ResultSet) (Page, error) {
	id, err := random.String(16)
	if err != nil {
		return Page{}, fmt.Errorf("generate result id: %w", err)
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = timezone.Now()
	}
	r.cache.Add(id, set)
	return r.renderPage(id, set, 0), nil
}

// Forget drops a result set before its TTL, cleaning up its artifacts.
func (r *Reporter) Forget(resultId string) {
	r.cache.Remove(resultId)
}

// GetPage renders page p of a registered result set. Out-of-range page
// numbers clamp into the valid range, an unknown id is ErrNotFound.
func (r *Reporter) GetPage(resultId string, p int) (Page, error) {
	set, ok := r.cache.Get(resultId)
	if !ok {
		return Page{}, ErrNotFound
	}
	return r.renderPage(resultId, set, p), nil
}

func (r *Reporter) renderPage(resultId string, set *ResultSet, p int) Page {
	uids := make([]string, 0, len(set.Results))
	for uid := range set.Results {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	totalPages := (len(uids) + PageSize - 1) / PageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if p < 0 {
		p = 0
	}
	if p > totalPages-1 {
		p = totalPages - 1
	}

	start := p * PageSize
	end := start + PageSize
	if start > len(uids) {
		start = len(uids)
	}
	if end > len(uids) {
		end = len(uids)
	}

	var b strings.Builder
	if set.Title != "" {
		fmt.Fprintf(&b, "%s\n", set.Title)
	}
	fmt.Fprintf(&b, "page %d/%d, %d users, %s\n",
		p+1, totalPages, len(uids), set.CreatedAt.Format("2006-01-02 15:04"))

	for _, uid := range uids[start:end] {
		name := set.Names[uid]
		if name == "" {
			name = uid
		}
		fmt.Fprintf(&b, "\n%s\n", name)

		siteResults := set.Results[uid]
		siteIds := make([]string, 0, len(siteResults))
		for site := range siteResults {
			siteIds = append(siteIds, site)
		}
		sort.Strings(siteIds)
		for _, site := range siteIds {
			for _, result := range siteResults[site] {
				fmt.Fprintf(&b, "  [%s] %s: %s %s\n",
					site, textutil.MaskAccount(result.Account),
					outcomeMark(result.Outcome), result.Message)
				if result.ScreenshotPath != "" {
					fmt.Fprintf(&b, "    screenshot: %s\n", result.ScreenshotPath)
				}
			}
		}
	}

	return Page{
		ResultId:   resultId,
		Number:     p,
		TotalPages: totalPages,
		Content:    b.String(),
		HasPrev:    p > 0,
		HasNext:    p < totalPages-1,
	}
}

func outcomeMark(outcome sites.Outcome) string {
	switch outcome {
	case sites.OutcomeSuccess:
		return "✅"
	case sites.OutcomeRefreshedSuccess:
		return "✅🔄"
	case sites.OutcomeRefreshedFailure:
		return "❌🔄"
	default:
		return "❌"
	}
}
