// internal/chaos/lab.go
package chaos

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/damage"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
	"libracheck/internal/notify"
	"libracheck/internal/storage"
	"libracheck/internal/store/memory"
)

// SwitchTagger reports fixed tags until it is switched off, after which
// every call fails the way an unreachable tagging service does.
type SwitchTagger struct {
	mu   sync.RWMutex
	down bool
	tags []string
}

func NewSwitchTagger(tags ...string) *SwitchTagger {
	return &SwitchTagger{tags: tags}
}

func (t *SwitchTagger) SetDown(down bool) {
	t.mu.Lock()
	t.down = down
	t.mu.Unlock()
}

func (t *SwitchTagger) AnalyzeFromURL(ctx context.Context, imageURL string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.down {
		return nil, fmt.Errorf("%w: service unavailable", errs.ErrAdapter)
	}
	return append([]string(nil), t.tags...), nil
}

// Lab is an isolated circulation deployment on the in-memory store that the
// experiments inject faults into.
type Lab struct {
	Store   *memory.Store
	Blobs   *storage.BucketStore
	Service circulation.Service
	Tagger  *SwitchTagger
}

// NewLab wires a circulation service whose evidence stays in memory and
// whose tagger reports tags.
func NewLab(logger logr.Logger, tags ...string) *Lab {
	store := memory.New()
	tagger := NewSwitchTagger(tags...)
	blobs := storage.NewMemoryStore("http://chaos.invalid/evidence")
	collector := evidence.NewCollector(blobs, tagger, evidence.Options{MaxConcurrency: 4}, logger)
	svc := circulation.NewService(store, collector, notify.NewLogNotifier(logger), damage.DefaultTariff(),
		circulation.Options{DefaultLoanDays: 14}, logger)
	return &Lab{Store: store, Blobs: blobs, Service: svc, Tagger: tagger}
}

func (l *Lab) Close() error {
	return l.Blobs.Close()
}

func (l *Lab) seedCopy(ctx context.Context, title string, stock int) (*catalog.Copy, error) {
	c := &catalog.Copy{
		ID:        uuid.New(),
		Title:     title,
		Author:    "Chaos Lab",
		UnitPrice: decimal.NewFromInt(100),
		Stock:     stock,
	}
	if err := l.Store.InsertCopy(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Lab) seedStudents(ctx context.Context, prefix string, n int) ([]*accounts.Student, error) {
	students := make([]*accounts.Student, 0, n)
	for i := 0; i < n; i++ {
		st := &accounts.Student{
			ID:            uuid.New(),
			Name:          fmt.Sprintf("%s student %d", prefix, i),
			StudentNumber: fmt.Sprintf("%s-%d-%s", prefix, i, uuid.NewString()[:8]),
		}
		if err := l.Store.InsertStudent(ctx, st); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, nil
}

// negativeStock counts copies whose stock went below zero.
func (l *Lab) negativeStock(ctx context.Context) (float64, error) {
	copies, err := l.Store.ListCopies(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range copies {
		if c.Stock < 0 {
			n++
		}
	}
	return float64(n), nil
}

func (l *Lab) stockOf(ctx context.Context, c *catalog.Copy) (float64, error) {
	if c == nil {
		return 0, fmt.Errorf("copy not seeded: %w", errs.ErrNotFound)
	}
	got, err := l.Store.GetCopy(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	return float64(got.Stock), nil
}

func (l *Lab) openRecords(ctx context.Context, students []*accounts.Student) (float64, error) {
	n := 0
	for _, st := range students {
		open, err := l.Store.ListOpenRecordsByStudent(ctx, st.ID)
		if err != nil {
			return 0, err
		}
		n += len(open)
	}
	return float64(n), nil
}

func (l *Lab) outstanding(ctx context.Context, students []*accounts.Student) (float64, error) {
	total := decimal.Zero
	for _, st := range students {
		got, err := l.Store.GetStudent(ctx, st.ID)
		if err != nil {
			return 0, err
		}
		total = total.Add(got.OutstandingFines)
	}
	return total.InexactFloat64(), nil
}
