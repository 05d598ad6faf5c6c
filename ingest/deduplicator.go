package ingest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/digestmux/digestmux/model"
	Logger "github.com/digestmux/digestmux/utils/log"
)

// Outcome of ingesting one raw article.
const (
	// A canonical article with the same url already exists, nothing inserted.
	OutcomeExisting = "existing"
	// Content matched an existing canonical article by hash, a non-canonical
	// row pointing at it was inserted for provenance.
	OutcomeDuplicate = "duplicate"
	// Brand new content, inserted as canonical.
	OutcomeCreated = "created"
)

// ErrMalformedArticle is returned for raw input that can't be deduplicated,
// the article is dropped and never surfaced to any user.
var ErrMalformedArticle = errors.New("malformed article")

// RawArticle is one record off the ingestion feed.
type RawArticle struct {
	Title          string
	Url            string
	Body           string
	Summary        string
	PublishedAt    time.Time
	SourceTag      string
	Companies      []string
	Industries     []string
	Topics         []string
	QualityScore   *float64
	SecondaryScore *float64
}

// Result reports what the Deduplicator decided for one raw article.
// CanonicalID is always the id candidate pools should use, regardless of
// whether a new row was inserted.
type Result struct {
	Outcome     string
	ArticleID   string
	CanonicalID string
}

// Deduplicator decides, for each freshly scraped article, whether it is new,
// an exact re-ingestion, or a near-duplicate of known content.
//
// This map stores content hashes seen since the process started. This is to
// cache canonical articles by hash so that we don't query DB for every
// incoming article. Note that it can return false negative, meaning that a
// hash might not exist in this map but still exists in the DB. A few
// thousand distinct articles enter the DB every day, which is pretty trivial
// to store in memory.
type Deduplicator struct {
	DB *gorm.DB

	m           sync.RWMutex
	knownHashes map[string]string // content hash -> canonical article id
}

func NewDeduplicator(db *gorm.DB) *Deduplicator {
	return &Deduplicator{
		DB:          db,
		m:           sync.RWMutex{},
		knownHashes: make(map[string]string),
	}
}

// cachedCanonicalID looks up the in-memory hash cache.
func (d *Deduplicator) cachedCanonicalID(hash string) (string, bool) {
	d.m.RLock()
	defer d.m.RUnlock()
	id, ok := d.knownHashes[hash]
	return id, ok
}

func (d *Deduplicator) cacheCanonicalID(hash string, id string) {
	d.m.Lock()
	defer d.m.Unlock()
	d.knownHashes[hash] = id
}

// canonicalIDByHash resolves a content hash to the canonical article id,
// first through the local cache, then through the DB (populating the cache
// on a hit).
func (d *Deduplicator) canonicalIDByHash(hash string) (string, bool, error) {
	if id, ok := d.cachedCanonicalID(hash); ok {
		return id, true, nil
	}

	var article model.Article
	res := d.DB.Where("content_hash = ? AND is_canonical = true", hash).First(&article)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errors.Wrap(res.Error, "fail to look up canonical article by hash")
	}

	d.cacheCanonicalID(hash, article.Id)
	return article.Id, true, nil
}

// Ingest runs the dedup contract for one raw article:
//
// 1. identical url of an existing canonical article means exact
//    re-ingestion, nothing is inserted.
// 2. otherwise hash the normalized title+body.
// 3. a hash hit inserts a non-canonical row pointing at the canonical one.
// 4. otherwise insert as canonical, which also makes the article eligible
//    for future candidate pools.
//
// A hash collision between two genuinely distinct articles shows up as a
// false-positive duplicate. Accepted risk, there is no reconciliation path.
func (d *Deduplicator) Ingest(raw RawArticle, now time.Time) (*Result, error) {
	if raw.Url == "" || (raw.Title == "" && raw.Body == "") {
		Logger.Log.Errorf("dropping malformed article, url: %q, source: %q", raw.Url, raw.SourceTag)
		return nil, ErrMalformedArticle
	}

	var existing model.Article
	res := d.DB.Where("url = ? AND is_canonical = true", raw.Url).First(&existing)
	if res.Error == nil {
		return &Result{Outcome: OutcomeExisting, ArticleID: existing.Id, CanonicalID: existing.Id}, nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(res.Error, "fail to look up canonical article by url")
	}

	hash := ContentHash(raw.Title, raw.Body)

	canonicalID, found, err := d.canonicalIDByHash(hash)
	if err != nil {
		return nil, err
	}

	article := model.Article{
		Id:             uuid.New().String(),
		CreatedAt:      now,
		Title:          raw.Title,
		Url:            raw.Url,
		Summary:        raw.Summary,
		PublishedAt:    raw.PublishedAt,
		Companies:      model.JoinTags(raw.Companies),
		Industries:     model.JoinTags(raw.Industries),
		Topics:         model.JoinTags(raw.Topics),
		QualityScore:   raw.QualityScore,
		SecondaryScore: raw.SecondaryScore,
		ContentHash:    hash,
		SourceTag:      raw.SourceTag,
	}

	if found {
		article.IsCanonical = false
		article.DuplicateOfID = &canonicalID
		if err := d.DB.Create(&article).Error; err != nil {
			return nil, errors.Wrap(err, "fail to insert duplicate article")
		}
		return &Result{Outcome: OutcomeDuplicate, ArticleID: article.Id, CanonicalID: canonicalID}, nil
	}

	article.IsCanonical = true
	if err := d.DB.Create(&article).Error; err != nil {
		// A concurrent ingester may have won the canonical insert for the same
		// hash. The partial unique index rejects ours, retry once as duplicate.
		canonicalID, found, lookupErr := d.canonicalIDByHash(hash)
		if lookupErr != nil || !found {
			return nil, errors.Wrap(err, "fail to insert canonical article")
		}
		article.Id = uuid.New().String()
		article.IsCanonical = false
		article.DuplicateOfID = &canonicalID
		if err := d.DB.Create(&article).Error; err != nil {
			return nil, errors.Wrap(err, "fail to insert duplicate article after canonical race")
		}
		return &Result{Outcome: OutcomeDuplicate, ArticleID: article.Id, CanonicalID: canonicalID}, nil
	}

	d.cacheCanonicalID(hash, article.Id)
	return &Result{Outcome: OutcomeCreated, ArticleID: article.Id, CanonicalID: article.Id}, nil
}
