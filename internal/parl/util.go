package parl

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// IsPostgresDB gates query paths with no portable SQL (array membership,
// tsvector search, NULLS LAST).
func IsPostgresDB(d *gorm.DB) bool {
	return d != nil && d.Dialector.Name() == "postgres"
}

func pqFloatArray(v []float64) pq.Float64Array { return pq.Float64Array(v) }

func dateStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func timeStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func strEmpty(s *string) bool { return s == nil || *s == "" }
