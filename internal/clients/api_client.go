// internal/clients/api_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libracheck/internal/accounts"
	"libracheck/internal/catalog"
	"libracheck/internal/circulation"
	"libracheck/internal/errs"
	"libracheck/internal/evidence"
)

// APIClient talks to a running circulation service. Error responses are
// mapped back onto the errs sentinels.
type APIClient struct {
	baseURL string
	http    *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) AddCopy(ctx context.Context, title, author, isbn string, unitPrice decimal.Decimal, stock int) (*catalog.Copy, error) {
	var out catalog.Copy
	err := c.doJSON(ctx, http.MethodPost, "/copies", map[string]interface{}{
		"title":      title,
		"author":     author,
		"isbn":       isbn,
		"unit_price": unitPrice,
		"stock":      stock,
	}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.Copy, error) {
	var out catalog.Copy
	if err := c.doJSON(ctx, http.MethodGet, "/copies/"+id.String(), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) AddStudent(ctx context.Context, name, studentNumber string, guardianEmails []string) (*accounts.Student, error) {
	var out accounts.Student
	err := c.doJSON(ctx, http.MethodPost, "/students", map[string]interface{}{
		"name":            name,
		"student_number":  studentNumber,
		"guardian_emails": guardianEmails,
	}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Outstanding returns the fine balance of a student.
func (c *APIClient) Outstanding(ctx context.Context, studentID uuid.UUID) (decimal.Decimal, error) {
	var out struct {
		Outstanding decimal.Decimal `json:"outstanding"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/students/"+studentID.String()+"/fines", nil, http.StatusOK, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Outstanding, nil
}

func (c *APIClient) Borrow(ctx context.Context, studentID, copyID uuid.UUID, dueDate *time.Time) (*circulation.BorrowingRecord, error) {
	var out circulation.BorrowingRecord
	err := c.doJSON(ctx, http.MethodPost, "/borrow", map[string]interface{}{
		"student_id": studentID,
		"copy_id":    copyID,
		"due_date":   dueDate,
	}, http.StatusCreated, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) AttachBorrowEvidence(ctx context.Context, recordID uuid.UUID, images []evidence.Image) (*circulation.BorrowingRecord, error) {
	return c.upload(ctx, "/borrow/"+recordID.String()+"/evidence", images)
}

func (c *APIClient) Return(ctx context.Context, studentNumber string, copyID uuid.UUID, images []evidence.Image) (*circulation.BorrowingRecord, error) {
	return c.upload(ctx, "/return/"+url.PathEscape(studentNumber)+"/"+copyID.String(), images)
}

func (c *APIClient) upload(ctx context.Context, path string, images []evidence.Image) (*circulation.BorrowingRecord, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, img := range images {
		w, err := mw.CreateFormFile("images", img.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(img.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out circulation.BorrowingRecord
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, in interface{}, want int, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, want, out)
}

func (c *APIClient) do(req *http.Request, want int, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(status int, msg string) error {
	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = errs.ErrNotFound
	case http.StatusConflict:
		sentinel = errs.ErrConflict
	case http.StatusBadRequest:
		// Both share a status; the message keeps the sentinel's text.
		sentinel = errs.ErrInvalid
		if strings.HasSuffix(msg, errs.ErrUnavailable.Error()) {
			sentinel = errs.ErrUnavailable
		}
	case http.StatusRequestEntityTooLarge:
		sentinel = errs.ErrInvalid
	case http.StatusBadGateway:
		sentinel = errs.ErrAdapter
	default:
		return fmt.Errorf("unexpected status code %d: %s", status, msg)
	}
	return fmt.Errorf("%s: %w", msg, sentinel)
}
