package clients_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/clients"
	"libracheck/internal/damage"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
	"libracheck/internal/notify"
	"libracheck/internal/storage"
	"libracheck/internal/store/memory"
)

type fixedTagger map[string][]string

func (f fixedTagger) AnalyzeFromURL(_ context.Context, imageURL string) ([]string, error) {
	for suffix, tags := range f {
		if strings.HasSuffix(imageURL, suffix) {
			return tags, nil
		}
	}
	return nil, nil
}

func newServer(t *testing.T, tagger evidence.Tagger) *clients.APIClient {
	t.Helper()
	store := memory.New()
	blobs := storage.NewMemoryStore("http://evidence.test")
	t.Cleanup(func() { blobs.Close() })
	collector := evidence.NewCollector(blobs, tagger, evidence.Options{}, logr.Discard())
	tariff, err := damage.NewTariff(map[string]decimal.Decimal{"torn pages": decimal.NewFromInt(50)}, decimal.RequireFromString("9.99"))
	require.NoError(t, err)
	svc := circulation.NewService(store, collector, notify.NewLogNotifier(logr.Discard()), tariff,
		circulation.Options{DefaultLoanDays: 14}, logr.Discard())

	r := chi.NewRouter()
	catalog.NewHandler(catalog.NewService(store)).Routes(r)
	accounts.NewHandler(accounts.NewService(store)).Routes(r)
	circulation.NewHandler(svc).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return clients.NewAPIClient(srv.URL, 0)
}

func TestBorrowReturnFlow(t *testing.T) {
	c := newServer(t, fixedTagger{"back.jpg": {"torn pages"}})
	ctx := context.Background()

	student, err := c.AddStudent(ctx, "Test User", "S-100", []string{"guardian@example.com"})
	require.NoError(t, err)
	book, err := c.AddCopy(ctx, "Pride and Prejudice", "Jane Austen", "9780141439518", decimal.NewFromInt(120), 5)
	require.NoError(t, err)

	rec, err := c.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, rec.DueDate)

	updated, err := c.GetCopy(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Stock)

	_, err = c.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{{Filename: "front.jpg", Data: []byte("front")}})
	require.NoError(t, err)

	returned, err := c.Return(ctx, "S-100", book.ID, []evidence.Image{{Filename: "back.jpg", Data: []byte("back")}})
	require.NoError(t, err)
	assert.Equal(t, circulation.StateClosed, returned.State())
	assert.Equal(t, []string{"torn pages"}, returned.ReturnConditionTags)
	assert.Len(t, returned.EvidenceImages, 2)

	updated, err = c.GetCopy(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Stock)

	balance, err := c.Outstanding(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "50", balance.String())

	_, err = c.Return(ctx, "S-100", book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestErrorsMapToSentinels(t *testing.T) {
	c := newServer(t, fixedTagger{})
	ctx := context.Background()

	student, err := c.AddStudent(ctx, "Test User", "S-1", nil)
	require.NoError(t, err)
	_, err = c.AddStudent(ctx, "Other", "S-1", nil)
	assert.ErrorIs(t, err, errs.ErrConflict)

	empty, err := c.AddCopy(ctx, "Out of stock", "", "", decimal.NewFromInt(10), 0)
	require.NoError(t, err)
	_, err = c.Borrow(ctx, student.ID, empty.ID, nil)
	assert.ErrorIs(t, err, errs.ErrUnavailable)

	_, err = c.AddCopy(ctx, "", "", "", decimal.NewFromInt(10), 1)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestConcurrentBorrowPreventsDoubleBooking(t *testing.T) {
	c := newServer(t, fixedTagger{})
	ctx := context.Background()

	book, err := c.AddCopy(ctx, "The Great Gatsby", "F. Scott Fitzgerald", "9780743273565", decimal.NewFromInt(80), 1)
	require.NoError(t, err)

	var students []*accounts.Student
	for i := 0; i < 10; i++ {
		st, err := c.AddStudent(ctx, "Member", "M-"+string(rune('A'+i)), nil)
		require.NoError(t, err)
		students = append(students, st)
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successCount int
	)
	for _, st := range students {
		wg.Add(1)
		go func(st *accounts.Student) {
			defer wg.Done()
			if _, err := c.Borrow(ctx, st.ID, book.ID, nil); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "Only one concurrent borrow should succeed")

	updated, err := c.GetCopy(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Stock)
}
