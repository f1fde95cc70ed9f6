package models

import (
	"testing"
	"time"
)

func TestListingKey(t *testing.T) {
	l := Listing{Source: "olx", ExternalID: "123", URL: "https://www.olx.pt/d/anuncio/123"}
	if got := l.Key(); got != (Key{Source: "olx", Ref: "123"}) {
		t.Errorf("Key with external ID = %v", got)
	}

	l.ExternalID = ""
	if got := l.Key(); got.Ref != "https://www.olx.pt/d/anuncio/123" {
		t.Errorf("Key must fall back to URL, got %v", got)
	}

	if got := (Key{Source: "olx", Ref: "123"}).String(); got != "olx:123" {
		t.Errorf("Key string = %q", got)
	}
}

func TestListingValidate(t *testing.T) {
	valid := Listing{
		Source:     "olx",
		ExternalID: "123",
		Price:      9500,
		ObservedAt: time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid listing rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Listing)
	}{
		{"missing source", func(l *Listing) { l.Source = "" }},
		{"missing identity", func(l *Listing) { l.ExternalID = ""; l.URL = "" }},
		{"zero price", func(l *Listing) { l.Price = 0 }},
		{"negative price", func(l *Listing) { l.Price = -100 }},
		{"zero timestamp", func(l *Listing) { l.ObservedAt = time.Time{} }},
	}
	for _, c := range cases {
		l := valid
		c.mutate(&l)
		if err := l.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}
