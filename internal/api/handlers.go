package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mbi/internal/breadth"
	"mbi/internal/domain"
	"mbi/internal/metrics"
	"mbi/internal/publish"
)

type handlers struct {
	recs   Records
	schema breadth.Schema
}

// NewHTTPHandler builds the gin engine serving the read API and /metrics.
func NewHTTPHandler(recs Records, schema breadth.Schema, m *metrics.Metrics, debug bool) http.Handler {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &handlers{recs: recs, schema: schema}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/columns", h.columns)
	v1.GET("/breadth", h.list)
	v1.GET("/breadth/latest", h.latest)
	v1.GET("/breadth/:date", h.get)
	return r
}

func (h *handlers) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "records": h.recs.Len()}
	if rec, ok := h.recs.Latest(); ok {
		resp["latest"] = domain.FormatDate(rec.Date)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) columns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"columns": h.schema.Header()})
}

// list returns the records within the optional start and end query
// parameters, ascending.
func (h *handlers) list(c *gin.Context) {
	start, end := time.Time{}, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"start", &start}, {"end", &end}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		d, err := domain.ParseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + p.name + " date, want YYYY-MM-DD"})
			return
		}
		*p.dst = d
	}

	recs := h.recs.Range(start, end)
	out := make([]publish.Message, len(recs))
	for i, r := range recs {
		out[i] = publish.NewMessage(h.schema, r)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(out), "records": out})
}

func (h *handlers) latest(c *gin.Context) {
	rec, ok := h.recs.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "ledger is empty"})
		return
	}
	c.JSON(http.StatusOK, publish.NewMessage(h.schema, rec))
}

func (h *handlers) get(c *gin.Context) {
	d, err := domain.ParseDate(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	rec, ok := h.recs.Get(d)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no record for " + domain.FormatDate(d)})
		return
	}
	c.JSON(http.StatusOK, publish.NewMessage(h.schema, rec))
}
