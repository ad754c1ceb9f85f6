package models

import (
	"time"
)

// Source is a monitored publication the collector fetches candidate content from.
type Source struct {
	Name     string         `json:"name" yaml:"name"`
	Category SourceCategory `json:"category" yaml:"category"`
	URL      string         `json:"url" yaml:"url"`
	Kind     SourceKind     `json:"kind" yaml:"kind"`
}

// SourceCategory separates general newspapers from specialized food outlets.
type SourceCategory string

const (
	SourceCategoryGeneral     SourceCategory = "general"
	SourceCategorySpecialized SourceCategory = "specialized"
)

// Valid reports whether the category is one of the known values.
func (c SourceCategory) Valid() bool {
	return c == SourceCategoryGeneral || c == SourceCategorySpecialized
}

// SourceKind selects the fetch strategy used for a source.
type SourceKind string

const (
	SourceKindFeed SourceKind = "feed" // RSS 2.0 or Atom
	SourceKindPage SourceKind = "page" // HTML listing page
)

// RawItem is a single piece of content pulled from a Source.
type RawItem struct {
	ID          string         `json:"id"` // content hash, stable across fetches
	Source      string         `json:"source"`
	Category    SourceCategory `json:"category"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	URL         string         `json:"url"`
	PublishedAt time.Time      `json:"published_at"`
}

// GetDisplayName returns a human-readable identifier for the item.
func (r *RawItem) GetDisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	if r.URL != "" {
		return r.URL
	}
	return r.Source + " item"
}
