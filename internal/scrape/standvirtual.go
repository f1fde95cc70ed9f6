package scrape

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Sagarzx/Car-Market-Alert/internal/config"
	"github.com/Sagarzx/Car-Market-Alert/internal/models"
)

// Standvirtual fetches car listings from the Standvirtual search API.
type Standvirtual struct {
	client   *resty.Client
	query    string
	region   string
	maxPages int
	pageSize int
	throttle *throttle
}

// NewStandvirtual creates the Standvirtual adapter from its source
// configuration.
func NewStandvirtual(cfg config.SourceConfig) *Standvirtual {
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
		pageSize = 32
	}
	return &Standvirtual{
		client:   client,
		query:    cfg.Query,
		region:   cfg.Region,
		maxPages: cfg.MaxPages,
		pageSize: pageSize,
		throttle: newThrottle(cfg.RateLimit),
	}
}

func (s *Standvirtual) Name() string { return "standvirtual" }

type svAd struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Price struct {
		Value float64 `json:"value"`
	} `json:"price"`
	Make        string    `json:"make"`
	Model       string    `json:"model"`
	Year        int       `json:"year"`
	Mileage     float64   `json:"mileage"`
	FuelType    string    `json:"fuel_type"`
	Gearbox     string    `json:"gearbox"`
	Region      string    `json:"region"`
	Photo       string    `json:"photo"`
	PublishedAt time.Time `json:"published_at"`
}

type svPage struct {
	Ads        []svAd `json:"ads"`
	TotalPages int    `json:"total_pages"`
}

// Fetch pages through the search endpoint. Standvirtual reports the total
// page count, which bounds the walk together with the configured cap.
func (s *Standvirtual) Fetch(ctx context.Context) ([]models.Listing, error) {
	var out []models.Listing
	for page := 1; page <= s.maxPages; page++ {
		if err := s.throttle.wait(ctx); err != nil {
			return nil, err
		}
		var body svPage
		resp, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"search[query]":  s.query,
				"search[region]": s.region,
				"page":           strconv.Itoa(page),
				"limit":          strconv.Itoa(s.pageSize),
			}).
			SetResult(&body).
			Get("/api/v1/search")
		if err != nil {
			return nil, fmt.Errorf("standvirtual: fetch page %d: %w", page, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("standvirtual: fetch page %d: status %d", page, resp.StatusCode())
		}
		if len(body.Ads) == 0 {
			break
		}
		for _, ad := range body.Ads {
			out = append(out, models.Listing{
				Source:       "standvirtual",
				ExternalID:   ad.ID,
				URL:          ad.URL,
				Title:        ad.Title,
				Make:         ad.Make,
				Model:        ad.Model,
				Year:         ad.Year,
				Price:        ad.Price.Value,
				Km:           ad.Mileage,
				Region:       ad.Region,
				Fuel:         ad.FuelType,
				Transmission: ad.Gearbox,
				ImageURL:     ad.Photo,
				ObservedAt:   ad.PublishedAt,
			})
		}
		if body.TotalPages > 0 && page >= body.TotalPages {
			break
		}
	}
	return out, nil
}
