package runner

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"sdpdash/gateway"
)

var (
	previewFirstNames = []string{"Alice", "Bruno", "Chloe", "Daniel", "Elena", "Farid", "Grace", "Hugo", "Ines", "Jonas"}
	previewLastNames  = []string{"Novak", "Meyer", "Rossi", "Silva", "Kowalski", "Dubois", "Jensen", "Moreau", "Horvat", "Ibrahim"}
	previewClasses    = []string{"Class1", "Class2", "Class3", "Class4", "Class5"}
)

// Score bonus applied by each stage on the backend.
const (
	processBonus = 10
	uploadBonus  = 5
)

// synthesizePreview fabricates n representative rows. Base scores fall in
// 55..75 as generated by the backend, shifted by bonus.
func synthesizePreview(n int, bonus float64, rng *rand.Rand) Preview {
	n = min(max(n, 0), MaxPreviewRows)
	rows := make([]gateway.Student, 0, n)
	for i := 1; i <= n; i++ {
		dob := time.Date(2000+rng.Intn(11), time.Month(1+rng.Intn(12)), 1+rng.Intn(28), 0, 0, 0, 0, time.UTC)
		rows = append(rows, gateway.Student{
			ID:           int64(i),
			StudentID:    fmt.Sprint(i),
			FirstName:    previewFirstNames[rng.Intn(len(previewFirstNames))],
			LastName:     previewLastNames[rng.Intn(len(previewLastNames))],
			DOB:          dob.Format("2006-01-02"),
			StudentClass: previewClasses[rng.Intn(len(previewClasses))],
			Score:        float64(55+rng.Intn(21)) + bonus,
		})
	}
	return Preview{Rows: rows, Synthetic: true}
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// fetchOrSynthesize prefers the first page of persisted records and falls
// back to synthetic rows when that fetch fails.
func fetchOrSynthesize(ctx context.Context, gw Gateway, n int, logger *zap.Logger) Preview {
	page, err := gw.ListStudents(ctx, gateway.StudentQuery{Page: 0, Size: MaxPreviewRows})
	if err != nil {
		logger.Debug("preview fetch failed, synthesizing", zap.Error(err))
		return synthesizePreview(n, processBonus+uploadBonus, newRand())
	}
	rows := page.Content
	if len(rows) > MaxPreviewRows {
		rows = rows[:MaxPreviewRows]
	}
	return Preview{Rows: append([]gateway.Student{}, rows...)}
}
