// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
)

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (e *Engine) RegisterExperiments(lab *Lab) {
	e.RegisterExperiment(ConcurrentBorrowRace(lab, 5, 20))
	e.RegisterExperiment(ConcurrentReturnRace(lab, 16))
	e.RegisterExperiment(TaggerOutage(lab, 8))
}

func noNegativeStock(lab *Lab) Metric {
	return Metric{
		Name:      "negative_stock_copies",
		Query:     lab.negativeStock,
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// ConcurrentBorrowRace borrows one copy with stock more times than there
// are units, all at once.
func ConcurrentBorrowRace(lab *Lab, stock, extra int) Experiment {
	var (
		book        *catalog.Copy
		students    []*accounts.Student
		unavailable atomic.Int64
	)

	return Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Stock never goes negative and exactly as many borrows succeed as there are units",
		SteadyState: []Metric{noNegativeStock(lab)},
		Probes: []Metric{
			{Name: "stock", Query: func(ctx context.Context) (float64, error) { return lab.stockOf(ctx, book) }},
			{Name: "open_records", Query: func(ctx context.Context) (float64, error) { return lab.openRecords(ctx, students) }},
			{Name: "unavailable_rejections", Query: func(context.Context) (float64, error) { return float64(unavailable.Load()), nil }},
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "memory-store",
				Execute: func(ctx context.Context) error {
					var err error
					if book, err = lab.seedCopy(ctx, "Borrow Race", stock); err != nil {
						return err
					}
					students, err = lab.seedStudents(ctx, "borrow-race", stock+extra)
					return err
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "circulation-service",
				Execute: func(ctx context.Context) error {
					if book == nil {
						return errors.New("copy not seeded")
					}
					p := pool.New().WithErrors().WithContext(ctx)
					for _, st := range students {
						p.Go(func(ctx context.Context) error {
							_, err := lab.Service.Borrow(ctx, st.ID, book.ID, nil)
							if errors.Is(err, errs.ErrUnavailable) {
								unavailable.Add(1)
								return nil
							}
							return err
						})
					}
					return p.Wait()
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "stock",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Every unit should be lent out and none beyond",
			},
			{
				Metric:    "open_records",
				Condition: func(v float64) bool { return v == float64(stock) },
				Message:   fmt.Sprintf("Exactly %d borrowing records should be open", stock),
			},
			{
				Metric:    "unavailable_rejections",
				Condition: func(v float64) bool { return v == float64(extra) },
				Message:   fmt.Sprintf("Exactly %d borrows should be rejected as unavailable", extra),
			},
			{
				Metric:    "negative_stock_copies",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No copy should have negative stock",
			},
		},
		BlastRadius: 0.1,
	}
}

// ConcurrentReturnRace returns the same borrowed copy from many callers at
// once.
func ConcurrentReturnRace(lab *Lab, racers int) Experiment {
	var (
		book      *catalog.Copy
		student   *accounts.Student
		succeeded atomic.Int64
	)

	return Experiment{
		Name:        "concurrent-return-race",
		Hypothesis:  "A borrowing record closes once and the stock comes back once",
		SteadyState: []Metric{noNegativeStock(lab)},
		Probes: []Metric{
			{Name: "stock", Query: func(ctx context.Context) (float64, error) { return lab.stockOf(ctx, book) }},
			{Name: "successful_returns", Query: func(context.Context) (float64, error) { return float64(succeeded.Load()), nil }},
			{Name: "open_records", Query: func(ctx context.Context) (float64, error) {
				if student == nil {
					return 0, errors.New("student not seeded")
				}
				return lab.openRecords(ctx, []*accounts.Student{student})
			}},
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "memory-store",
				Execute: func(ctx context.Context) error {
					var err error
					if book, err = lab.seedCopy(ctx, "Return Race", 1); err != nil {
						return err
					}
					students, err := lab.seedStudents(ctx, "return-race", 1)
					if err != nil {
						return err
					}
					student = students[0]
					_, err = lab.Service.Borrow(ctx, student.ID, book.ID, nil)
					return err
				},
			},
			{
				Type:   "concurrent-requests",
				Target: "circulation-service",
				Execute: func(ctx context.Context) error {
					if book == nil || student == nil {
						return errors.New("lab not seeded")
					}
					p := pool.New().WithErrors().WithContext(ctx)
					for i := 0; i < racers; i++ {
						p.Go(func(ctx context.Context) error {
							_, err := lab.Service.Return(ctx, student.StudentNumber, book.ID, nil)
							switch {
							case err == nil:
								succeeded.Add(1)
							case errors.Is(err, errs.ErrNotFound):
							default:
								return err
							}
							return nil
						})
					}
					return p.Wait()
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "successful_returns",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one return should succeed",
			},
			{
				Metric:    "stock",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Stock should be restored exactly once",
			},
			{
				Metric:    "open_records",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "The record should be closed",
			},
		},
		BlastRadius: 0.1,
	}
}

// TaggerOutage takes the tagging service down while books are returned
// with evidence photos.
func TaggerOutage(lab *Lab, returns int) Experiment {
	var (
		students []*accounts.Student
		failed   atomic.Int64
		images   atomic.Int64
	)

	return Experiment{
		Name:        "tagger-outage",
		Hypothesis:  "Returns keep working without tags and nobody is fined for damage that could not be detected",
		SteadyState: []Metric{noNegativeStock(lab)},
		Probes: []Metric{
			{Name: "failed_returns", Query: func(context.Context) (float64, error) { return float64(failed.Load()), nil }},
			{Name: "stored_images", Query: func(context.Context) (float64, error) { return float64(images.Load()), nil }},
			{Name: "fines_outstanding", Query: func(ctx context.Context) (float64, error) { return lab.outstanding(ctx, students) }},
		},
		Method: []Action{
			{
				Type:   "dependency-outage",
				Target: "tagging-service",
				Execute: func(context.Context) error {
					lab.Tagger.SetDown(true)
					return nil
				},
			},
			{
				Type:   "borrow-and-return",
				Target: "circulation-service",
				Execute: func(ctx context.Context) error {
					book, err := lab.seedCopy(ctx, "Tagger Outage", returns)
					if err != nil {
						return err
					}
					if students, err = lab.seedStudents(ctx, "tagger-outage", returns); err != nil {
						return err
					}
					p := pool.New().WithContext(ctx)
					for i, st := range students {
						p.Go(func(ctx context.Context) error {
							if _, err := lab.Service.Borrow(ctx, st.ID, book.ID, nil); err != nil {
								failed.Add(1)
								return nil
							}
							rec, err := lab.Service.Return(ctx, st.StudentNumber, book.ID, []evidence.Image{{
								Filename:    fmt.Sprintf("return-%d.jpg", i),
								ContentType: "image/jpeg",
								Data:        []byte(fmt.Sprintf("return photo %d", i)),
							}})
							if err != nil {
								failed.Add(1)
								return nil
							}
							images.Add(int64(len(rec.EvidenceImages)))
							return nil
						})
					}
					return p.Wait()
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-dependency",
				Target: "tagging-service",
				Execute: func(context.Context) error {
					lab.Tagger.SetDown(false)
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "failed_returns",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No borrow or return should fail during the outage",
			},
			{
				Metric:    "stored_images",
				Condition: func(v float64) bool { return v == float64(returns) },
				Message:   "Evidence photos should still be stored",
			},
			{
				Metric:    "fines_outstanding",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No damage fine should be charged without tags",
			},
		},
		BlastRadius: 0.5,
	}
}
