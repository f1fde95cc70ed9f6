package scrape

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sagarzx/Car-Market-Alert/internal/config"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// OLX fetches car listings from the OLX offers API.
type OLX struct {
	client   *resty.Client
	query    string
	region   string
	maxPages int
	pageSize int
	throttle *throttle
}

// NewOLX creates the OLX adapter from its source configuration.
func NewOLX(cfg config.SourceConfig) *OLX {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 40
	}
	return &OLX{
		client:   client,
		query:    cfg.Query,
		region:   cfg.Region,
		maxPages: cfg.MaxPages,
		pageSize: pageSize,
		throttle: newThrottle(cfg.RateLimit),
	}
}

func (o *OLX) Name() string { return "olx" }

// olxOffer mirrors the subset of the OLX offer payload the engine needs.
// Structured attributes arrive as a key/value parameter list.
type olxOffer struct {
	ID       int64      `json:"id"`
	URL      string     `json:"url"`
	Title    string     `json:"title"`
	Params   []olxParam `json:"params"`
	Location struct {
		Region struct {
			Name string `json:"name"`
		} `json:"region"`
	} `json:"location"`
	Photos []struct {
		Link string `json:"link"`
	} `json:"photos"`
	LastRefreshTime time.Time `json:"last_refresh_time"`
}

type olxParam struct {
	Key   string `json:"key"`
	Value struct {
		Value string `json:"value"`
		Label string `json:"label"`
	} `json:"value"`
}

type olxPage struct {
	Data []olxOffer `json:"data"`
}

// Fetch pages through the offers endpoint until a page comes back empty or
// the configured page cap is reached.
func (o *OLX) Fetch(ctx context.Context) ([]models.Listing, error) {
	var out []models.Listing
	for page := 0; page < o.maxPages; page++ {
		if err := o.throttle.wait(ctx); err != nil {
			return nil, err
		}
		var body olxPage
		resp, err := o.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"query":       o.query,
				"region_name": o.region,
				"offset":      strconv.Itoa(page * o.pageSize),
				"limit":       strconv.Itoa(o.pageSize),
			}).
			SetResult(&body).
			Get("/api/v1/offers/")
		if err != nil {
			return nil, fmt.Errorf("olx: fetch page %d: %w", page, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("olx: fetch page %d: status %d", page, resp.StatusCode())
		}
		if len(body.Data) == 0 {
			break
		}
		for _, offer := range body.Data {
			out = append(out, offer.toListing())
		}
	}
	return out, nil
}

func (off *olxOffer) toListing() models.Listing {
	l := models.Listing{
		Source:     "olx",
		ExternalID: strconv.FormatInt(off.ID, 10),
		URL:        off.URL,
		Title:      off.Title,
		Region:     off.Location.Region.Name,
		ObservedAt: off.LastRefreshTime,
	}
	if len(off.Photos) > 0 {
		l.ImageURL = off.Photos[0].Link
	}
	for _, p := range off.Params {
		switch p.Key {
		case "price":
			l.Price = parseNumber(p.Value.Value)
		case "milage": // sic, OLX's own key
			l.Km = parseNumber(p.Value.Value)
		case "motor_year":
			l.Year = int(parseNumber(p.Value.Value))
		case "brand":
			l.Make = p.Value.Label
		case "model":
			l.Model = p.Value.Label
		case "petrol":
			l.Fuel = p.Value.Label
		case "gearbox":
			l.Transmission = p.Value.Label
		}
	}
	return l
}

// parseNumber reads a marketplace numeric string, tolerating currency and
// grouping noise like "9 999 €" or "129.000".
func parseNumber(s string) float64 {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return n
}
