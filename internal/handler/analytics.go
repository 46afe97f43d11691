package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/analytics"
)

// AnalyticsReport returns the stored daily snapshots of the last week or month.
func (h *Handler) AnalyticsReport(w http.ResponseWriter, r *http.Request) {
	period := analytics.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = analytics.PeriodWeek
	}

	snapshots, err := h.analytics.Report(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for i := range snapshots {
		encodeSnapshot(&e, &snapshots[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// RunAnalytics aggregates one day on demand. The date query parameter
// defaults to yesterday (UTC).
func (h *Handler) RunAnalytics(w http.ResponseWriter, r *http.Request) {
	day := analytics.Day(time.Now()).AddDate(0, 0, -1)
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, r, errBadRequest("invalid date %q, want YYYY-MM-DD", v))
			return
		}
		day = parsed
	}

	s, err := h.analytics.RunForDate(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeSnapshot(&e, s)
	writeJSON(w, http.StatusOK, &e)
}

func encodeSnapshot(e *jx.Encoder, s *analytics.Snapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("date", func(e *jx.Encoder) { e.Str(s.Date.Format(time.DateOnly)) })
		e.Field("totalOrders", func(e *jx.Encoder) { e.Int(s.TotalOrders) })
		e.Field("totalRevenue", func(e *jx.Encoder) { encodeMoney(e, s.TotalRevenue) })
		e.Field("newUsers", func(e *jx.Encoder) { e.Int(s.NewUsers) })
		e.Field("popularProducts", func(e *jx.Encoder) {
			e.ArrStart()
			for _, p := range s.PopularProducts {
				e.Obj(func(e *jx.Encoder) {
					e.Field("productId", func(e *jx.Encoder) { e.Str(p.ProductID) })
					e.Field("sales", func(e *jx.Encoder) { e.Int(p.Sales) })
				})
			}
			e.ArrEnd()
		})
		e.Field("categories", func(e *jx.Encoder) {
			e.ArrStart()
			for _, c := range s.Categories {
				e.Obj(func(e *jx.Encoder) {
					e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
					e.Field("sales", func(e *jx.Encoder) { encodeMoney(e, c.Sales) })
				})
			}
			e.ArrEnd()
		})
	})
}
