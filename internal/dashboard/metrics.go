// Package dashboard produces the sample analytics shown on the dashboard
// and caches them per user and range.
package dashboard

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"
)

// ErrInvalidRange reports an unsupported time range.
var ErrInvalidRange = errors.New("invalid range")

// Range is a reporting window.
type Range string

const (
	Range7d  Range = "7d"
	Range30d Range = "30d"
	Range90d Range = "90d"
)

// Ranges lists the supported windows.
var Ranges = []Range{Range7d, Range30d, Range90d}

// ParseRange validates s. Empty means 30d.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case "":
		return Range30d, nil
	case Range7d, Range30d, Range90d:
		return Range(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRange, s)
}

// Days returns the window length.
func (r Range) Days() int {
	switch r {
	case Range7d:
		return 7
	case Range90d:
		return 90
	default:
		return 30
	}
}

// Overview holds headline KPIs for the window.
type Overview struct {
	Reach          int64   `json:"reach"`
	Engagement     int64   `json:"engagement"`
	Conversions    int64   `json:"conversions"`
	Revenue        int64   `json:"revenue"`
	Currency       string  `json:"currency"`
	EngagementRate float64 `json:"engagement_rate"`
	ROI            float64 `json:"roi"`
}

// Point is one day of the trend series.
type Point struct {
	Date        string `json:"date"`
	Reach       int64  `json:"reach"`
	Engagement  int64  `json:"engagement"`
	Conversions int64  `json:"conversions"`
}

// Campaign summarises one campaign's performance.
type Campaign struct {
	Name        string  `json:"name"`
	Channel     string  `json:"channel"`
	Spend       int64   `json:"spend"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	CTR         float64 `json:"ctr"`
}

// SocialChannel summarises one social platform.
type SocialChannel struct {
	Platform       string  `json:"platform"`
	Followers      int64   `json:"followers"`
	Growth         float64 `json:"growth"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Metrics is the full dashboard payload.
type Metrics struct {
	Range       Range           `json:"range"`
	GeneratedAt time.Time       `json:"generated_at"`
	Overview    Overview        `json:"overview"`
	Series      []Point         `json:"series"`
	Campaigns   []Campaign      `json:"campaigns"`
	Social      []SocialChannel `json:"social"`
}

var sampleCampaigns = []struct{ name, channel string }{
	{"حملة رمضان", "instagram"},
	{"إطلاق المنتج الجديد", "google_ads"},
	{"العودة للمدارس", "snapchat"},
	{"اليوم الوطني", "x"},
}

var samplePlatforms = []string{"instagram", "x", "snapchat", "tiktok", "linkedin"}

// Generate builds sample metrics for userID over r ending at now. The numbers
// depend only on the user, the range and the UTC calendar day of now.
func Generate(userID string, r Range, now time.Time) *Metrics {
	day := now.UTC().Truncate(24 * time.Hour)
	rng := rand.New(rand.NewSource(seed(userID, r, day)))
	days := r.Days()

	m := &Metrics{Range: r, GeneratedAt: now.UTC()}
	m.Series = make([]Point, days)
	for i := 0; i < days; i++ {
		reach := 2000 + rng.Int63n(8000)
		engagement := reach / 20 * (1 + rng.Int63n(3))
		conversions := engagement / 10 * (1 + rng.Int63n(2)) / 2
		m.Series[i] = Point{
			Date:        day.AddDate(0, 0, i-days+1).Format("2006-01-02"),
			Reach:       reach,
			Engagement:  engagement,
			Conversions: conversions,
		}
		m.Overview.Reach += reach
		m.Overview.Engagement += engagement
		m.Overview.Conversions += conversions
	}

	var spend int64
	for _, c := range sampleCampaigns {
		s := int64(days) * (100 + rng.Int63n(400))
		clicks := s / 2 * (1 + rng.Int63n(4))
		impressions := clicks * (20 + rng.Int63n(30))
		conv := clicks / (10 + rng.Int63n(20))
		spend += s
		m.Campaigns = append(m.Campaigns, Campaign{
			Name:        c.name,
			Channel:     c.channel,
			Spend:       s,
			Clicks:      clicks,
			Conversions: conv,
			CTR:         round2(float64(clicks) / float64(impressions) * 100),
		})
	}

	for _, p := range samplePlatforms {
		m.Social = append(m.Social, SocialChannel{
			Platform:       p,
			Followers:      5000 + rng.Int63n(95000),
			Growth:         round2(rng.Float64()*float64(days)/3 - 1),
			EngagementRate: round2(1 + rng.Float64()*7),
		})
	}

	m.Overview.Currency = "SAR"
	m.Overview.Revenue = m.Overview.Conversions * (80 + rng.Int63n(120))
	if m.Overview.Reach > 0 {
		m.Overview.EngagementRate = round2(float64(m.Overview.Engagement) / float64(m.Overview.Reach) * 100)
	}
	if spend > 0 {
		m.Overview.ROI = round2(float64(m.Overview.Revenue-spend) / float64(spend) * 100)
	}
	return m
}

func seed(userID string, r Range, day time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(r))
	_, _ = h.Write([]byte(day.Format("2006-01-02")))
	return int64(h.Sum64() & (1<<63 - 1))
}

func round2(f float64) float64 {
	if f < 0 {
		return -float64(int64(-f*100+0.5)) / 100
	}
	return float64(int64(f*100+0.5)) / 100
}
