package server

import (
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/digestmux/digestmux/dispatch"
	"github.com/digestmux/digestmux/ingest"
	"github.com/digestmux/digestmux/model"
	"github.com/digestmux/digestmux/preference"
	Logger "github.com/digestmux/digestmux/utils/log"
)

// APIHandler wires the engine components behind the JSON interface: the
// ingestion feed, the feedback endpoint, and the read-only preference and
// digest-status views.
type APIHandler struct {
	DB     *gorm.DB
	Dedup  *ingest.Deduplicator
	Prefs  *preference.Store
	Status *dispatch.StatusReader
}

func NewAPIHandler(db *gorm.DB, dedup *ingest.Deduplicator, prefs *preference.Store, status *dispatch.StatusReader) *APIHandler {
	return &APIHandler{DB: db, Dedup: dedup, Prefs: prefs, Status: status}
}

func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/articles", h.IngestArticle)
	router.POST("/feedback", h.SubmitFeedback)
	router.GET("/users/:id/preferences", h.GetPreferences)
	router.GET("/users/:id/digests/:date", h.GetDigest)
	router.GET("/users/:id/digests/:date/status", h.GetDigestStatus)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
}

type ingestRequest struct {
	Title          string   `json:"title"`
	Url            string   `json:"url"`
	Body           string   `json:"body"`
	Summary        string   `json:"summary"`
	PublishedAt    string   `json:"published_at"`
	SourceTag      string   `json:"source_tag"`
	Companies      []string `json:"companies"`
	Industries     []string `json:"industries"`
	Topics         []string `json:"topics"`
	QualityScore   *float64 `json:"quality_score"`
	SecondaryScore *float64 `json:"secondary_score"`
}

// IngestArticle consumes one record off the ingestion feed and runs it
// through the deduplicator. Malformed records are logged and dropped, they
// never reach a candidate pool.
func (h *APIHandler) IngestArticle(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	publishedAt := time.Now().UTC()
	if req.PublishedAt != "" {
		// Feed records carry arbitrary timestamp formats.
		parsed, err := dateparse.ParseAny(req.PublishedAt)
		if err != nil {
			Logger.Log.Errorf("unparseable published_at %q for url %s: %v", req.PublishedAt, req.Url, err)
		} else {
			publishedAt = parsed.UTC()
		}
	}

	result, err := h.Dedup.Ingest(ingest.RawArticle{
		Title:          req.Title,
		Url:            req.Url,
		Body:           req.Body,
		Summary:        req.Summary,
		PublishedAt:    publishedAt,
		SourceTag:      req.SourceTag,
		Companies:      req.Companies,
		Industries:     req.Industries,
		Topics:         req.Topics,
		QualityScore:   req.QualityScore,
		SecondaryScore: req.SecondaryScore,
	}, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ingest.ErrMalformedArticle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed article"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":      result.Outcome,
		"article_id":   result.ArticleID,
		"canonical_id": result.CanonicalID,
	})
}

type feedbackRequest struct {
	UserID       string `json:"user_id"`
	ArticleID    string `json:"article_id"`
	DigestID     string `json:"digest_id"`
	FeedbackType string `json:"feedback_type"`
}

// SubmitFeedback records one vote and routes its weight delta into the
// preference store. Feedback on a duplicate row is applied against the
// canonical article so the learned weights stay on the scored entity tags.
func (h *APIHandler) SubmitFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.ArticleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and article_id are required"})
		return
	}

	var article model.Article
	res := h.DB.Where("id = ?", req.ArticleID).First(&article)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown article"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}

	if article.DuplicateOfID != nil {
		var canonical model.Article
		if err := h.DB.Where("id = ?", *article.DuplicateOfID).First(&canonical).Error; err == nil {
			article = canonical
		}
	}

	if err := h.Prefs.ApplyFeedback(req.UserID, &article, req.DigestID, req.FeedbackType, time.Now().UTC()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// GetPreferences exposes the read-only weight snapshot for transparency and
// debugging.
func (h *APIHandler) GetPreferences(c *gin.Context) {
	snapshot, err := h.Prefs.GetSnapshot(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// digestResponse is the wire view of a digest row.
type digestResponse struct {
	Id             string     `json:"id"`
	UserID         string     `json:"user_id"`
	DigestDate     string     `json:"digest_date"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	ArticleCount   int        `json:"article_count"`
	DeliveryStatus string     `json:"delivery_status"`
	SentAt         *time.Time `json:"sent_at"`
	// Named differently from the model's serialized column so copier leaves
	// it alone; filled from the deserialized id list below.
	Articles []string `json:"article_ids"`
}

// GetDigest returns the full digest record for operational inspection.
func (h *APIHandler) GetDigest(c *gin.Context) {
	var digest model.Digest
	res := h.DB.Where("user_id = ? AND digest_date = ?", c.Param("id"), c.Param("date")).First(&digest)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no digest for user and date"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": res.Error.Error()})
		return
	}

	var resp digestResponse
	if err := copier.Copy(&resp, &digest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp.Articles = digest.ArticleIdList()
	c.JSON(http.StatusOK, resp)
}

// GetDigestStatus answers pending|sent|failed for (user, date).
func (h *APIHandler) GetDigestStatus(c *gin.Context) {
	status, err := h.Status.Get(c.Param("id"), c.Param("date"))
	if err != nil {
		if errors.Is(err, dispatch.ErrNoDigest) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no digest for user and date"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
