// Package news fetches recent articles and turns them into AI-written syntheses.
package news

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Defaults for the Google News fetcher.
const (
	DefaultBaseURL   = "https://news.google.com/rss/search"
	DefaultUserAgent = "Mozilla/5.0 (compatible; WhatsAppNewsBot/1.0)"
	DefaultCacheTTL  = 10 * time.Minute
	DefaultRate      = 2.0
	maxFeedBytes     = 4 << 20
)

// topicQueries maps topic labels to Google News search expressions.
var topicQueries = map[string]string{
	"Technologie":           "technologie OR tech OR numérique OR intelligence artificielle",
	"Finance":               "finance OR bourse OR économie OR marché",
	"Sport":                 "sport OR football OR tennis OR rugby",
	"Politique":             "politique OR gouvernement OR élection",
	"Santé":                 "santé OR médecine OR santé publique",
	"Science":               "science OR recherche OR découverte",
	"Divertissement":        "divertissement OR cinéma OR musique OR culture",
	"Affaires":              "affaires OR entreprise OR startup OR business",
	"Voyages":               "voyage OR tourisme OR destination",
	"Environnement":         "environnement OR climat OR écologie",
	models.GeneralNewsTopic: "actualité OR news OR france",
}

// QueryForTopic returns the search expression for a topic, or the topic itself.
func QueryForTopic(topic string) string {
	if q, ok := topicQueries[topic]; ok {
		return q
	}
	return topic
}

// Fetcher retrieves recent articles for a topic or free-text query.
type Fetcher interface {
	FetchRecent(ctx context.Context, topic string, count, daysBack int) ([]models.Article, error)
}

// Opts holds configuration options for GoogleNewsFetcher.
type Opts struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Rate       float64
	Now        func() time.Time
}

// Option configures a GoogleNewsFetcher.
type Option func(*Opts)

// WithBaseURL overrides the RSS search endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used for feed requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithCacheTTL sets how long a fetched feed is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.CacheTTL = ttl }
}

// WithRate sets the maximum feed requests per second.
func WithRate(perSecond float64) Option {
	return func(o *Opts) { o.Rate = perSecond }
}

// WithClock overrides time.Now for the publication cutoff.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// GoogleNewsFetcher reads the French Google News RSS search feed.
type GoogleNewsFetcher struct {
	baseURL   string
	userAgent string
	client    *http.Client
	cache     *cache.Cache
	limiter   *rate.Limiter
	now       func() time.Time
}

// Compile-time check that GoogleNewsFetcher implements Fetcher.
var _ Fetcher = (*GoogleNewsFetcher)(nil)

// NewGoogleNewsFetcher creates a fetcher with a feed cache and an outbound throttle.
func NewGoogleNewsFetcher(opts ...Option) *GoogleNewsFetcher {
	cfg := Opts{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		CacheTTL:  DefaultCacheTTL,
		Rate:      DefaultRate,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &GoogleNewsFetcher{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    cfg.HTTPClient,
		cache:     cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), int(cfg.Rate*2)+1),
		now:       cfg.Now,
	}
}

// FetchRecent returns at most count articles published within daysBack days.
// daysBack <= 0 disables the cutoff.
func (f *GoogleNewsFetcher) FetchRecent(ctx context.Context, topic string, count, daysBack int) ([]models.Article, error) {
	query := QueryForTopic(topic)
	articles, err := f.feed(ctx, query)
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	if daysBack > 0 {
		cutoff = f.now().AddDate(0, 0, -daysBack)
	}
	out := make([]models.Article, 0, count)
	for _, a := range articles {
		if !cutoff.IsZero() && a.PublishedAt.Before(cutoff) {
			continue
		}
		out = append(out, a)
		if count > 0 && len(out) == count {
			break
		}
	}
	slog.Debug("GoogleNewsFetcher.FetchRecent: filtered", "topic", topic, "fetched", len(articles), "kept", len(out), "days_back", daysBack)
	return out, nil
}

func (f *GoogleNewsFetcher) feed(ctx context.Context, query string) ([]models.Article, error) {
	if cached, ok := f.cache.Get(query); ok {
		return cached.([]models.Article), nil
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rss throttle: %w", err)
	}

	u := fmt.Sprintf("%s?q=%s&hl=fr&gl=FR&ceid=FR:fr", f.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build rss request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rss: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read rss: %w", err)
	}
	articles, err := parseFeed(data, f.now())
	if err != nil {
		return nil, err
	}
	f.cache.Set(query, articles, cache.DefaultExpiration)
	return articles, nil
}

// TopicArticles pairs a topic with its fetched articles.
type TopicArticles struct {
	Topic    string
	Articles []models.Article
}

// FetchByTopics fetches every topic concurrently and returns results in topic order.
// A failing topic is logged and yields no articles.
func FetchByTopics(ctx context.Context, f Fetcher, topics []string, count, daysBack int) []TopicArticles {
	results := make([]TopicArticles, len(topics))
	var wg sync.WaitGroup
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic string) {
			defer wg.Done()
			articles, err := f.FetchRecent(ctx, topic, count, daysBack)
			if err != nil {
				slog.Warn("news.FetchByTopics: topic fetch failed", "topic", topic, "error", err)
			}
			results[i] = TopicArticles{Topic: topic, Articles: articles}
		}(i, topic)
	}
	wg.Wait()
	return results
}
