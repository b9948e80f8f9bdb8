package ground

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/agrilink/internal/auth"
	"github.com/danmuck/agrilink/internal/protocol/quasijson"
	"github.com/danmuck/agrilink/internal/protocol/session"
	"github.com/gin-gonic/gin"
)

// StoredRecord is a normalized record as kept for the status surface.
type StoredRecord struct {
	Record     quasijson.Record `json:"record"`
	Class      string           `json:"class"`
	ReceivedAt time.Time        `json:"received_at"`
}

// TransferSummary is a finished transfer with where it was archived.
type TransferSummary struct {
	session.Transfer
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

type recordRing struct {
	mu    sync.Mutex
	items []StoredRecord
	limit int
}

func newRecordRing(limit int) *recordRing {
	if limit <= 0 {
		limit = 128
	}
	return &recordRing{limit: limit}
}

func (r *recordRing) add(rec StoredRecord) {
	rec.Class = rec.Record.Class
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, rec)
	if over := len(r.items) - r.limit; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
}

// list returns records of class, or all records when class is empty.
func (r *recordRing) list(class string) []StoredRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StoredRecord, 0, len(r.items))
	for _, it := range r.items {
		if class == "" || it.Class == class {
			out = append(out, it)
		}
	}
	return out
}

type transferLog struct {
	mu    sync.Mutex
	items []TransferSummary
	limit int
}

func newTransferLog(limit int) *transferLog {
	return &transferLog{limit: limit}
}

func (l *transferLog) add(t TransferSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, t)
	if over := len(l.items) - l.limit; over > 0 {
		l.items = append(l.items[:0:0], l.items[over:]...)
	}
}

func (l *transferLog) list() []TransferSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TransferSummary(nil), l.items...)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Service) registerRoutes() {
	r := s.status.HTTPRouter()
	r.GET("/records", func(c *gin.Context) {
		class := strings.ToLower(strings.TrimSpace(c.Query("class")))
		c.JSON(http.StatusOK, gin.H{"records": s.records.list(class)})
	})
	r.GET("/transfers", func(c *gin.Context) {
		body := gin.H{"recent": s.transfers.list()}
		if p, ok := s.asm.Active(); ok {
			body["active"] = p
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/commands", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tokens": s.cfg.Commands.Tokens(), "commands": s.cfg.Commands})
	})
	r.POST("/commands", auth.Require(auth.FromToken(s.cfg.StatusToken)), func(c *gin.Context) {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := s.SendCommand(c.Request.Context(), req.Command)
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, gin.H{"command": req.Command, "token": token})
		case token == "":
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "token": token})
		}
	})
}
