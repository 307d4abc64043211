package news

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

var testNow = time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC)

var sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Google Actualités</title>
<item>
  <title>Une IA bat un record - Le Monde</title>
  <link>https://example.com/ia</link>
  <description>&lt;a href="https://example.com/ia"&gt;Une IA bat un record&lt;/a&gt;&amp;nbsp;&lt;font&gt;Le Monde&lt;/font&gt;</description>
  <pubDate>Sun, 04 May 2025 18:00:00 GMT</pubDate>
</item>
<item>
  <title><![CDATA[Bourse - Paris - Les Echos]]></title>
  <link>https://example.com/bourse</link>
  <description>Le CAC 40 progresse</description>
  <pubDate>Mon, 21 Apr 2025 10:00:00 GMT</pubDate>
</item>
<item>
  <title>Sans source</title>
  <link>https://example.com/x</link>
  <description>` + strings.Repeat("a", 350) + `</description>
  <pubDate>Mon, 05 May 2025 07:00:00 GMT</pubDate>
</item>
</channel></rss>`

func newTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Query().Get("hl") != "fr" || r.URL.Query().Get("ceid") != "FR:fr" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseFeed(t *testing.T) {
	articles, err := parseFeed([]byte(sampleFeed), testNow)
	if err != nil {
		t.Fatalf("parseFeed: %v", err)
	}
	if len(articles) != 3 {
		t.Fatalf("got %d articles, want 3", len(articles))
	}

	first := articles[0]
	if first.Title != "Une IA bat un record" || first.Source != "Le Monde" {
		t.Errorf("title/source split = %q / %q", first.Title, first.Source)
	}
	if strings.Contains(first.Body, "<") {
		t.Errorf("html not stripped: %q", first.Body)
	}
	if articles[1].Title != "Bourse - Paris" || articles[1].Source != "Les Echos" {
		t.Errorf("multi-dash split = %q / %q", articles[1].Title, articles[1].Source)
	}
	if articles[2].Source != defaultSource {
		t.Errorf("default source = %q", articles[2].Source)
	}
	if n := len([]rune(articles[2].Body)); n != maxBodyRunes || !strings.HasSuffix(articles[2].Body, "...") {
		t.Errorf("body truncated to %d runes: %q", n, articles[2].Body[len(articles[2].Body)-5:])
	}
}

func TestParseFeed_Malformed(t *testing.T) {
	if _, err := parseFeed([]byte("<rss><channel><item>"), testNow); err == nil {
		t.Error("expected decode error")
	}
}

func TestGoogleNewsFetcher_CutoffLimitAndCache(t *testing.T) {
	var hits int32
	srv := newTestServer(t, &hits)
	f := NewGoogleNewsFetcher(WithBaseURL(srv.URL), WithClock(func() time.Time { return testNow }))

	got, err := f.FetchRecent(context.Background(), "Technologie", 5, 2)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d recent articles, want 2 (old one filtered)", len(got))
	}

	got, err = f.FetchRecent(context.Background(), "Technologie", 1, 0)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("limit not applied: %d", len(got))
	}
	if hits != 1 {
		t.Errorf("feed requested %d times, want 1 (cached)", hits)
	}
}

func TestGoogleNewsFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	f := NewGoogleNewsFetcher(WithBaseURL(srv.URL))
	if _, err := f.FetchRecent(context.Background(), "Sport", 3, 1); err == nil {
		t.Error("expected error on 503")
	}
}

func TestQueryForTopic(t *testing.T) {
	if q := QueryForTopic(models.GeneralNewsTopic); q != "actualité OR news OR france" {
		t.Errorf("general query = %q", q)
	}
	if q := QueryForTopic("élections américaines"); q != "élections américaines" {
		t.Errorf("free text should pass through, got %q", q)
	}
}

type stubFetcher struct {
	byTopic map[string][]models.Article
	err     error
}

func (s *stubFetcher) FetchRecent(ctx context.Context, topic string, count, daysBack int) ([]models.Article, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byTopic[topic], nil
}

type stubGenerator struct {
	out    string
	err    error
	system string
	user   string
	calls  int
}

func (s *stubGenerator) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	s.system, s.user = systemPrompt, userPrompt
	return s.out, s.err
}

func TestFetchByTopics_PreservesOrder(t *testing.T) {
	f := &stubFetcher{byTopic: map[string][]models.Article{
		"Sport":   {{Title: "PSG"}},
		"Finance": {{Title: "CAC"}, {Title: "BCE"}},
	}}
	groups := FetchByTopics(context.Background(), f, []string{"Sport", "Finance", "Voyages"}, 5, 1)
	if len(groups) != 3 || groups[0].Topic != "Sport" || groups[1].Topic != "Finance" || groups[2].Topic != "Voyages" {
		t.Fatalf("order not preserved: %+v", groups)
	}
	if len(groups[1].Articles) != 2 || len(groups[2].Articles) != 0 {
		t.Errorf("unexpected article counts: %+v", groups)
	}
}

func TestLLMSynthesizer_QuestionMode(t *testing.T) {
	f := &stubFetcher{byTopic: map[string][]models.Article{
		models.GeneralNewsTopic: {{Title: "Élection", Body: "Résultats", Source: "AFP"}},
	}}
	gen := &stubGenerator{out: "Voici la réponse"}
	res := NewLLMSynthesizer(f, gen).Synthesize(context.Background(), models.SynthesisRequest{
		Topics: []string{models.GeneralNewsTopic}, ArticlesPerTopic: 5, DaysBack: 2, Question: "Qui a gagné ?",
	})
	if !res.Success || res.Content != "Voici la réponse" || res.ArticleCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(gen.system, "répond aux questions") {
		t.Error("question mode should use the Q&A system prompt")
	}
	if !strings.Contains(gen.user, `"Qui a gagné ?"`) || !strings.Contains(gen.user, "## ACTUALITÉS") {
		t.Errorf("user prompt missing question or topic header: %s", gen.user)
	}
}

func TestLLMSynthesizer_Failures(t *testing.T) {
	empty := NewLLMSynthesizer(&stubFetcher{}, &stubGenerator{out: "x"})
	res := empty.Synthesize(context.Background(), models.SynthesisRequest{Topics: []string{"Sport"}})
	if res.Success || res.Error != ErrNoArticles {
		t.Errorf("no articles result = %+v", res)
	}

	f := &stubFetcher{byTopic: map[string][]models.Article{"Sport": {{Title: "Match"}}}}
	gen := &stubGenerator{err: errors.New("quota exceeded")}
	res = NewLLMSynthesizer(f, gen).Synthesize(context.Background(), models.SynthesisRequest{Topics: []string{"Sport"}})
	if res.Success || !strings.Contains(res.Error, "quota exceeded") {
		t.Errorf("generation failure result = %+v", res)
	}
}

func TestFormatForWhatsApp(t *testing.T) {
	if got := FormatForWhatsApp("court", 10); got != "court" {
		t.Errorf("short content changed: %q", got)
	}
	got := FormatForWhatsApp(strings.Repeat("é", 20), 10)
	if got != strings.Repeat("é", 7)+"..." {
		t.Errorf("truncation = %q", got)
	}
}

func TestDigestHeader(t *testing.T) {
	got := DigestHeader(models.FrequencyDaily, testNow)
	if got != "📰 **Synthèse Quotidienne**\nlundi 5 mai 2025\n\n" {
		t.Errorf("daily header = %q", got)
	}
	if !strings.Contains(DigestHeader(models.FrequencyWeekly, testNow), "Hebdomadaire") {
		t.Error("weekly header missing title")
	}
}
