package server

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/devdash/internal/validation"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// envelope is the body of every JSON response.
type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Details    any         `json:"details,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
	Message    string      `json:"message,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func writeJSON(c *gin.Context, code int, v envelope) {
	v.Timestamp = time.Now()
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func ok(c *gin.Context, code int, data any) {
	writeJSON(c, code, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, code int, msg string) {
	writeJSON(c, code, envelope{Error: msg})
}

// failValidation reports 400 "Validation failed" with the per-field details
// carried by err, if any.
func failValidation(c *gin.Context, err error) {
	env := envelope{Error: "Validation failed"}
	var ve *validation.Error
	if errors.As(err, &ve) {
		env.Details = ve.Fields
	} else {
		env.Details = []validation.Field{{Field: "body", Message: err.Error()}}
	}
	writeJSON(c, 400, env)
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

var errInvalidQuery = errors.New("invalid query")

// pageQuery reads page (>= 1, default 1) and limit (1..100, default 10).
func pageQuery(c *gin.Context) (page, limit int, err error) {
	vr := validation.New(errInvalidQuery)
	page, limit = 1, defaultLimit
	if s, set := c.GetQuery("page"); set {
		n, convErr := strconv.Atoi(s)
		if convErr != nil || n < 1 {
			vr.Add("page", "must be an integer >= 1")
		} else {
			page = n
		}
	}
	if s, set := c.GetQuery("limit"); set {
		n, convErr := strconv.Atoi(s)
		if convErr != nil || n < 1 || n > maxLimit {
			vr.Add("limit", "must be an integer between 1 and 100")
		} else {
			limit = n
		}
	}
	return page, limit, vr.Err()
}

func newPagination(page, limit, total int) *pagination {
	return &pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(limit))),
	}
}

// paginate returns the page-th slice of items; an out of range page is empty.
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := min(start+limit, len(items))
	return items[start:end]
}
