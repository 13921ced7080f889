package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildFilter(t *testing.T) {
	t.Run("owner only", func(t *testing.T) {
		where, args := buildFilter("u1", DefaultListParams())
		assert.Equal(t, "owner_user_id = $1", where)
		assert.Equal(t, []any{"u1"}, args)
	})

	t.Run("all filters", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)
		where, args := buildFilter("u1", ListParams{
			EventType: "credits_refunded",
			Severity:  "warn",
			From:      &from,
			To:        &to,
		})
		assert.Equal(t,
			"owner_user_id = $1 AND event_type = $2 AND severity = $3 AND created_at >= $4 AND created_at <= $5",
			where)
		assert.Equal(t, []any{"u1", "credits_refunded", "warn", from, to}, args)
	})
}

func TestNormalize(t *testing.T) {
	p := normalize(ListParams{Page: 0, PageSize: 500})
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)

	p = normalize(ListParams{Page: 3, PageSize: 50})
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 50, p.PageSize)
}
