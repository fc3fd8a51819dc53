package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracheck/internal/config"
)

func setup(t *testing.T) {
	t.Helper()
	t.Setenv("LIBRACHECK_CONFIG", "")
	t.Setenv("LIBRACHECK_DATABASE_URL", "")
	var err error
	cfg, err = config.Load("")
	require.NoError(t, err)
	cfg.Storage.Root = t.TempDir()
	logger = logr.Discard()
}

func TestRouterServesLifecycleOnMemoryStore(t *testing.T) {
	setup(t)
	a, err := newApp(context.Background())
	require.NoError(t, err)
	defer a.Close()
	r := newRouter(a)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz", "").Code)

	rec := do(http.MethodPost, "/copies", `{"title":"Dune","author":"Frank Herbert","unit_price":"20","stock":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var book struct{ ID string }
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&book))

	rec = do(http.MethodPost, "/students", `{"name":"Thandi","student_number":"S-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var student struct{ ID string }
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&student))

	rec = do(http.MethodPost, "/borrow", fmt.Sprintf(`{"student_id":%q,"copy_id":%q}`, student.ID, book.ID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(http.MethodPut, "/return/S-1/"+book.ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(http.MethodGet, "/students/"+student.ID+"/fines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"outstanding":"0"`)
}

func TestRouterServesEvidenceFiles(t *testing.T) {
	setup(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Storage.Root, "dune"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Storage.Root, "dune", "front.jpg"), []byte("pixels"), 0o644))

	a, err := newApp(context.Background())
	require.NoError(t, err)
	defer a.Close()
	rec := httptest.NewRecorder()
	newRouter(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/evidence/dune/front.jpg", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pixels", rec.Body.String())
}

func TestLoadTariffUsesConfiguredDefault(t *testing.T) {
	setup(t)
	cfg.Fines.DefaultPrice = "5"
	tariff, err := loadTariff()
	require.NoError(t, err)
	assert.Equal(t, "5", tariff.Price("never seen before").String())
	assert.Equal(t, "50", tariff.Price("torn pages").String())

	path := filepath.Join(t.TempDir(), "tariff.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prices:\n  scuff: 3\n"), 0o644))
	cfg.Fines.TariffFile = path
	tariff, err = loadTariff()
	require.NoError(t, err)
	assert.Equal(t, "3", tariff.Price("scuff").String())
	assert.Equal(t, "5", tariff.Price("torn pages").String())
}

func TestStartSweeperWithoutSchedule(t *testing.T) {
	setup(t)
	cfg.Loans.OverdueSchedule = ""
	a, err := newApp(context.Background())
	require.NoError(t, err)
	c, err := startSweeper(context.Background(), a.circulation)
	require.NoError(t, err)
	assert.Empty(t, c.Entries())
	<-c.Stop().Done()

	cfg.Loans.OverdueSchedule = "@every 1h"
	c, err = startSweeper(context.Background(), a.circulation)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
	<-c.Stop().Done()
}
