package circulation_test

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/damage"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
	"libracheck/internal/storage"
	"libracheck/internal/store/memory"
)

// scriptedTagger answers by object name, so the same picture yields the same
// tags in every container.
type scriptedTagger struct {
	mu   sync.Mutex
	tags map[string][]string
	fail map[string]bool
}

func newTagger() *scriptedTagger {
	return &scriptedTagger{tags: map[string][]string{}, fail: map[string]bool{}}
}

func (s *scriptedTagger) AnalyzeFromURL(ctx context.Context, imageURL string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := path.Base(imageURL)
	if s.fail[name] {
		return nil, fmt.Errorf("%w: status 503", errs.ErrAdapter)
	}
	return s.tags[name], nil
}

type sentEmail struct {
	to      []string
	subject string
	plain   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (n *recordingNotifier) SendEmail(ctx context.Context, to []string, subject, plain, html string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentEmail{to: to, subject: subject, plain: plain})
	return nil
}

func (n *recordingNotifier) emails() []sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentEmail(nil), n.sent...)
}

type fixture struct {
	store    *memory.Store
	blobs    *storage.BucketStore
	tagger   *scriptedTagger
	notifier *recordingNotifier
	svc      circulation.Service
	catalog  catalog.Service
	accounts accounts.Service
	clock    *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testTariff(t *testing.T) damage.Tariff {
	t.Helper()
	tariff, err := damage.NewTariff(map[string]decimal.Decimal{
		"water stain": dec("30.0"),
		"mold":        dec("80.0"),
		"torn pages":  dec("50.0"),
	}, dec("9.99"))
	require.NoError(t, err)
	return tariff
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{
		store:    store,
		blobs:    storage.NewMemoryStore("http://evidence.test"),
		tagger:   newTagger(),
		notifier: &recordingNotifier{},
		clock:    &clock{now: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)},
		catalog:  catalog.NewService(store),
		accounts: accounts.NewService(store),
	}
	t.Cleanup(func() { f.blobs.Close() })
	collector := evidence.NewCollector(f.blobs, f.tagger, evidence.Options{CallTimeout: time.Second}, logr.Discard())
	f.svc = circulation.NewService(store, collector, f.notifier, testTariff(t),
		circulation.Options{DefaultLoanDays: 14, Now: f.clock.Now}, logr.Discard())
	return f
}

func (f *fixture) addCopy(t *testing.T, title string, price string, stock int) *catalog.Copy {
	t.Helper()
	c, err := f.catalog.AddCopy(context.Background(), title, "Author", "", dec(price), stock)
	require.NoError(t, err)
	return c
}

func (f *fixture) addStudent(t *testing.T, number string, emails ...string) *accounts.Student {
	t.Helper()
	s, err := f.accounts.AddStudent(context.Background(), "Student "+number, number, emails)
	require.NoError(t, err)
	return s
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	c, err := f.catalog.GetCopy(context.Background(), id)
	require.NoError(t, err)
	return c.Stock
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	b, err := f.accounts.GetOutstanding(context.Background(), id)
	require.NoError(t, err)
	return b
}

func img(name string) evidence.Image {
	return evidence.Image{Filename: name, ContentType: "image/jpeg", Data: []byte("pixels of " + name)}
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "The Great Gatsby", "20.00", 1)
	student := f.addStudent(t, "S-1001", "guardian@example.com")
	f.tagger.tags["front.jpg"] = []string{"clean"}
	f.tagger.tags["back.jpg"] = []string{"clean", "water stain"}

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateOpen, rec.State())
	assert.Equal(t, 0, f.stock(t, book.ID))
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 14), *rec.DueDate)

	rec, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("front.jpg")})
	require.NoError(t, err)
	assert.Equal(t, []string{"clean"}, rec.BorrowConditionTags)
	require.Len(t, rec.EvidenceImages, 1)

	f.clock.Advance(72 * time.Hour)
	closed, err := f.svc.Return(ctx, "S-1001", book.ID, []evidence.Image{img("back.jpg")})
	require.NoError(t, err)

	assert.Equal(t, circulation.StateClosed, closed.State())
	assert.True(t, closed.FineAmount.Equal(dec("30")), closed.FineAmount.String())
	assert.Equal(t, []string{"clean", "water stain"}, closed.ReturnConditionTags)
	assert.Len(t, closed.EvidenceImages, 2)
	assert.True(t, f.balance(t, student.ID).Equal(dec("30")))
	assert.Equal(t, 1, f.stock(t, book.ID))

	emails := f.notifier.emails()
	require.Len(t, emails, 2)
	assert.Equal(t, "Student S-1001 has borrowed The Great Gatsby", emails[0].subject)
	assert.Equal(t, []string{"guardian@example.com"}, emails[1].to)
	assert.Contains(t, emails[1].plain, "Amount owed for damages: R30.00")
	assert.Contains(t, emails[1].plain, "Detected issues: water stain")

	history, err := f.svc.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, circulation.EventBookBorrowed, history[0].EventType)
	assert.Equal(t, circulation.EventBorrowEvidenceAttached, history[1].EventType)
	assert.Equal(t, circulation.EventBookReturned, history[2].EventType)
	assert.Equal(t, 3, history[2].Version)
	assert.Contains(t, string(history[2].EventData), `"new_damage":["water stain"]`)
}

func TestBorrowResolvesStudentAndCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")

	_, err := f.svc.Borrow(ctx, uuid.New(), book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.Borrow(ctx, student.ID, uuid.New(), nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.Equal(t, 1, f.stock(t, book.ID))
}

func TestBorrowTwiceIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 5)
	student := f.addStudent(t, "S-1")

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, student.ID, book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, 4, f.stock(t, book.ID))
}

func TestBorrowConflictBeatsUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, student.ID, book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestBorrowWithoutStock(t *testing.T) {
	f := newFixture(t)
	book := f.addCopy(t, "Dune", "10", 0)
	student := f.addStudent(t, "S-1")

	_, err := f.svc.Borrow(context.Background(), student.ID, book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrUnavailable)
	assert.Equal(t, 0, f.stock(t, book.ID))
}

func TestBorrowRejectsPastDueDate(t *testing.T) {
	f := newFixture(t)
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")
	past := f.clock.Now().Add(-time.Hour)

	_, err := f.svc.Borrow(context.Background(), student.ID, book.ID, &past)
	assert.ErrorIs(t, err, errs.ErrInvalid)
	assert.Equal(t, 1, f.stock(t, book.ID))
}

func TestConcurrentBorrowsNeverOversell(t *testing.T) {
	const stock, extra = 5, 4
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", stock)

	students := make([]*accounts.Student, stock+extra)
	for i := range students {
		students[i] = f.addStudent(t, fmt.Sprintf("S-%d", i))
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok          int
		unavailable int
	)
	for _, s := range students {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.Borrow(ctx, id, book.ID, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrUnavailable):
				unavailable++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(s.ID)
	}
	wg.Wait()

	assert.Equal(t, stock, ok)
	assert.Equal(t, extra, unavailable)
	assert.Equal(t, 0, f.stock(t, book.ID))

	open := 0
	for _, s := range students {
		recs, err := f.svc.ListOpenBorrowings(ctx, s.ID)
		require.NoError(t, err)
		open += len(recs)
	}
	assert.Equal(t, stock, open)
}

func TestRoundTripAndDoubleReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 3)
	student := f.addStudent(t, "S-1")

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, book.ID))

	rec, err := f.svc.Return(ctx, "S-1", book.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateClosed, rec.State())
	assert.True(t, rec.FineAmount.IsZero())
	assert.Equal(t, 3, f.stock(t, book.ID))

	_, err = f.svc.Return(ctx, "S-1", book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, 3, f.stock(t, book.ID))

	again, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)
}

func TestReturnUnknownKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	f.addStudent(t, "S-1")

	_, err := f.svc.Return(ctx, "S-404", book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.Return(ctx, "S-1", uuid.New(), nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = f.svc.Return(ctx, "S-1", book.ID, nil)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAttachBorrowEvidenceAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")
	f.tagger.tags["a.jpg"] = []string{"Torn Pages", "writing"}
	f.tagger.tags["b.jpg"] = []string{"writing", "bent cover"}

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("a.jpg")})
	require.NoError(t, err)
	rec, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("b.jpg")})
	require.NoError(t, err)

	assert.Equal(t, []string{"Torn Pages", "bent cover", "writing"}, rec.BorrowConditionTags)
	assert.Len(t, rec.EvidenceImages, 2)
	assert.Equal(t, 3, rec.Version)

	_, err = f.svc.AttachBorrowEvidence(ctx, uuid.New(), []evidence.Image{img("a.jpg")})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAttachToClosedRecordIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "S-1", book.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("late.jpg")})
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestPreExistingDamageIsNotRecharged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")
	f.tagger.tags["borrow.jpg"] = []string{"Torn Pages"}
	f.tagger.tags["return.jpg"] = []string{"torn pages", "mold"}

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("borrow.jpg")})
	require.NoError(t, err)

	closed, err := f.svc.Return(ctx, "S-1", book.ID, []evidence.Image{img("return.jpg")})
	require.NoError(t, err)
	assert.True(t, closed.FineAmount.Equal(dec("80")), closed.FineAmount.String())
}

func TestLostChargesUnitPriceOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "20.00", 1)
	student := f.addStudent(t, "S-1", "p@example.com")
	f.tagger.tags["gone.jpg"] = []string{"lost", "coffee stain", "mold"}

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	closed, err := f.svc.Return(ctx, "S-1", book.ID, []evidence.Image{img("gone.jpg")})
	require.NoError(t, err)

	assert.True(t, closed.FineAmount.Equal(dec("20")), closed.FineAmount.String())
	assert.True(t, f.balance(t, student.ID).Equal(dec("20")))
	emails := f.notifier.emails()
	require.Len(t, emails, 1)
	assert.Contains(t, emails[0].plain, "reported lost")
}

func TestFinesAccumulateAcrossReturns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addCopy(t, "Dune", "10", 1)
	second := f.addCopy(t, "Emma", "10", 1)
	student := f.addStudent(t, "S-1")
	f.tagger.tags["one.jpg"] = []string{"water stain"}
	f.tagger.tags["two.jpg"] = []string{"something unheard of"}

	for _, c := range []*catalog.Copy{first, second} {
		_, err := f.svc.Borrow(ctx, student.ID, c.ID, nil)
		require.NoError(t, err)
	}
	_, err := f.svc.Return(ctx, "S-1", first.ID, []evidence.Image{img("one.jpg")})
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "S-1", second.ID, []evidence.Image{img("two.jpg")})
	require.NoError(t, err)

	assert.True(t, f.balance(t, student.ID).Equal(dec("39.99")), f.balance(t, student.ID).String())
}

func TestTaggerFailureChargesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")
	f.tagger.fail["broken.jpg"] = true

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	closed, err := f.svc.Return(ctx, "S-1", book.ID, []evidence.Image{img("broken.jpg")})
	require.NoError(t, err)

	assert.True(t, closed.FineAmount.IsZero())
	assert.Empty(t, closed.ReturnConditionTags)
	assert.Len(t, closed.EvidenceImages, 1, "the stored image is kept as evidence")
	assert.Equal(t, 1, f.stock(t, book.ID))
}

// failingLedgerRepo makes every fine posting inside a transaction fail.
type failingLedgerRepo struct {
	*memory.Store
}

type failingLedgerTx struct {
	circulation.Tx
}

func (failingLedgerTx) AddFines(context.Context, uuid.UUID, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("ledger offline")
}

func (r failingLedgerRepo) RunInTx(ctx context.Context, fn func(context.Context, circulation.Tx) error) error {
	return r.Store.RunInTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		return fn(ctx, failingLedgerTx{tx})
	})
}

func TestReturnRollsBackWhenLedgerFails(t *testing.T) {
	f := newFixture(t)
	f.svc = circulation.NewService(failingLedgerRepo{f.store},
		evidence.NewCollector(f.blobs, f.tagger, evidence.Options{}, logr.Discard()),
		f.notifier, testTariff(t), circulation.Options{Now: f.clock.Now}, logr.Discard())
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1", "p@example.com")
	f.tagger.tags["damaged.jpg"] = []string{"mold"}

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, "S-1", book.ID, []evidence.Image{img("damaged.jpg")})
	require.ErrorContains(t, err, "ledger offline")

	assert.Equal(t, 0, f.stock(t, book.ID))
	assert.True(t, f.balance(t, student.ID).IsZero())
	got, err := f.svc.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateOpen, got.State())
	assert.Empty(t, got.EvidenceImages)
	assert.Empty(t, f.notifier.emails())

	remaining, err := f.blobs.Containers(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining, "uploaded evidence is discarded")
}

func TestNoGuardianEmailsSkipsNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1")

	rec, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.AttachBorrowEvidence(ctx, rec.ID, []evidence.Image{img("a.jpg")})
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "S-1", book.ID, nil)
	require.NoError(t, err)

	assert.Empty(t, f.notifier.emails())
}

func TestNotificationFailureDoesNotFailReturn(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 1)
	student := f.addStudent(t, "S-1", "p@example.com")

	_, err := f.svc.Borrow(ctx, student.ID, book.ID, nil)
	require.NoError(t, err)
	rec, err := f.svc.Return(ctx, "S-1", book.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, circulation.StateClosed, rec.State())
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "Dune", "10", 3)
	withEmail := f.addStudent(t, "S-1", "p@example.com")
	withoutEmail := f.addStudent(t, "S-2")
	onTime := f.addStudent(t, "S-3", "q@example.com")

	_, err := f.svc.Borrow(ctx, withEmail.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, withoutEmail.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, onTime.ID, book.ID, nil)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, "S-3", book.ID, nil)
	require.NoError(t, err)

	sent, err := f.svc.SweepOverdue(ctx, f.clock.Now().AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	sent, err = f.svc.SweepOverdue(ctx, f.clock.Now().AddDate(0, 0, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	emails := f.notifier.emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "Dune is overdue for Student S-1", emails[0].subject)
}

func TestLongTitleKeepsEvidencePerRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.addCopy(t, "A Very Long Illustrated Anniversary Edition Of The Collected Works Volume One", "100", 2)
	first := f.addStudent(t, "S-1")
	second := f.addStudent(t, "S-2")

	f.tagger.tags["cover.jpg"] = []string{"clean"}
	recA, err := f.svc.Borrow(ctx, first.ID, book.ID, nil)
	require.NoError(t, err)
	recA, err = f.svc.AttachBorrowEvidence(ctx, recA.ID, []evidence.Image{img("cover.jpg")})
	require.NoError(t, err)
	require.Len(t, recA.EvidenceImages, 1)

	// The second borrower photographs the same copy, now damaged, under the
	// same file name.
	f.tagger.tags["cover.jpg"] = []string{"torn pages"}
	recB, err := f.svc.Borrow(ctx, second.ID, book.ID, nil)
	require.NoError(t, err)
	recB, err = f.svc.AttachBorrowEvidence(ctx, recB.ID, []evidence.Image{img("cover.jpg")})
	require.NoError(t, err)
	assert.Equal(t, []string{"torn pages"}, recB.BorrowConditionTags)
	require.Len(t, recB.EvidenceImages, 1)
	assert.NotEqual(t, recA.EvidenceImages[0], recB.EvidenceImages[0])

	f.tagger.tags["back.jpg"] = []string{"torn pages"}
	closed, err := f.svc.Return(ctx, "S-2", book.ID, []evidence.Image{img("back.jpg")})
	require.NoError(t, err)
	assert.True(t, closed.FineAmount.IsZero(), "damage recorded at borrow is not charged: %s", closed.FineAmount)
	assert.Len(t, closed.EvidenceImages, 2)

	containers, err := f.blobs.Containers(ctx)
	require.NoError(t, err)
	assert.Len(t, containers, 3, "each record and phase gets its own container")
	for _, c := range containers {
		assert.LessOrEqual(t, len(c), 63)
	}
}
