package model

import (
	"strings"
	"time"
)

// EntityKind enumerates the kinds of entities an article can be tagged with
// and a user can build preference towards.
const (
	EntityKindCompany  = "company"
	EntityKindIndustry = "industry"
	EntityKindTopic    = "topic"
)

// EntityTag is a single (kind, name) tag attached to an article.
type EntityTag struct {
	Kind string
	Name string
}

/*

Article is a piece of scraped news content after deduplication

Id: primary key, use to identify an article
CreatedAt: time when entity is created

Title: article's title in plain text
Url: canonical url of the article, unique among canonical articles
Summary: short summary in plain text, produced by the ingestion pipeline
PublishedAt: time the article was published at its source

Companies: company tags, serialized string separated by ","
Industries: industry tags, serialized string separated by ","
Topics: topic tags, serialized string separated by ","

QualityScore: 0-100 editorial quality score, nil if the pipeline didn't supply one
SecondaryScore: 0-100 fallback score from the ingestion pipeline, nil if absent

ContentHash: hex digest of the normalized title+body, unique among canonical articles
DuplicateOfID:
DuplicateOf: if the article is a near-duplicate, points at the canonical article.
		An article with DuplicateOfID set is never canonical and is excluded
		from every candidate pool, but is retained for source attribution.
IsCanonical: true iff this row is the single record used for scoring/selection

SourceTag: optional scraper-provided source label
*/
type Article struct {
	Id             string `gorm:"primaryKey"`
	CreatedAt      time.Time
	Title          string
	Url            string `gorm:"index:idx_articles_canonical_url,unique,where:is_canonical"`
	Summary        string
	PublishedAt    time.Time
	Companies      string
	Industries     string
	Topics         string
	QualityScore   *float64
	SecondaryScore *float64
	ContentHash    string `gorm:"index:idx_articles_canonical_hash,unique,where:is_canonical"`
	DuplicateOfID  *string
	DuplicateOf    *Article
	IsCanonical    bool
	SourceTag      string
}

// splitTags deserializes a ","-joined tag string. Empty string means no tags.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// JoinTags serializes a tag list into the stored "," separated form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func (a *Article) CompanyList() []string {
	return splitTags(a.Companies)
}

func (a *Article) IndustryList() []string {
	return splitTags(a.Industries)
}

func (a *Article) TopicList() []string {
	return splitTags(a.Topics)
}

// AllTags returns every (kind, name) tag on the article, companies first.
func (a *Article) AllTags() []EntityTag {
	tags := []EntityTag{}
	for _, c := range a.CompanyList() {
		tags = append(tags, EntityTag{Kind: EntityKindCompany, Name: c})
	}
	for _, i := range a.IndustryList() {
		tags = append(tags, EntityTag{Kind: EntityKindIndustry, Name: i})
	}
	for _, t := range a.TopicList() {
		tags = append(tags, EntityTag{Kind: EntityKindTopic, Name: t})
	}
	return tags
}
