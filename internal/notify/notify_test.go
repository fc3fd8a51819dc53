package notify

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/mail"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

var day = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)

func TestBorrowNotice(t *testing.T) {
	due := day.AddDate(0, 0, 14)
	msg, err := BorrowNotice(BorrowDetails{
		StudentName:   "Thandi",
		StudentNumber: "S-1001",
		Title:         "The Great Gatsby",
		BorrowDate:    day,
		DueDate:       &due,
		Images:        []string{"http://blobs/gatsby/front.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Thandi has borrowed The Great Gatsby", msg.Subject)
	assert.Contains(t, msg.Plain, "Author: N/A")
	assert.Contains(t, msg.Plain, "Borrow Date: 2024-03-14")
	assert.Contains(t, msg.Plain, "Due Date: 2024-03-28")
	assert.Contains(t, msg.Plain, "http://blobs/gatsby/front.jpg")
	assert.Contains(t, msg.HTML, `<a href="http://blobs/gatsby/front.jpg" target="_blank">View Image</a>`)
}

func TestBorrowNoticeWithoutDueDate(t *testing.T) {
	msg, err := BorrowNotice(BorrowDetails{StudentName: "A", Title: "B", Author: "C", BorrowDate: day})
	require.NoError(t, err)
	assert.Contains(t, msg.Plain, "Due Date: N/A")
	assert.Contains(t, msg.Plain, "Author: C")
}

func TestReturnNotice(t *testing.T) {
	tests := []struct {
		name     string
		details  ReturnDetails
		contains []string
		excludes []string
	}{
		{
			name: "fine owed",
			details: ReturnDetails{
				StudentName: "Thandi", Title: "Dune", ReturnDate: day,
				Amount: decimal.RequireFromString("30"),
				Issues: []string{"water stain", "mold"},
			},
			contains: []string{"Amount owed for damages: R30.00", "Detected issues: water stain, mold"},
			excludes: []string{"No fines are owed", "reported lost"},
		},
		{
			name: "no fine",
			details: ReturnDetails{
				StudentName: "Thandi", Title: "Dune", ReturnDate: day,
				Amount: decimal.Zero,
			},
			contains: []string{"No fines are owed for this return."},
			excludes: []string{"Amount owed"},
		},
		{
			name: "lost",
			details: ReturnDetails{
				StudentName: "Thandi", Title: "Dune", ReturnDate: day,
				Amount: decimal.RequireFromString("20"), Lost: true,
				Issues: []string{"lost"},
			},
			contains: []string{"reported lost", "R20.00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ReturnNotice(tt.details)
			require.NoError(t, err)
			assert.Equal(t, "Thandi has returned Dune", msg.Subject)
			for _, s := range tt.contains {
				assert.Contains(t, msg.Plain, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, msg.Plain, s)
				assert.NotContains(t, msg.HTML, s)
			}
		})
	}
}

func TestOverdueNotice(t *testing.T) {
	msg, err := OverdueNotice(OverdueDetails{
		StudentName: "Sipho", Title: "Dune", BorrowDate: day, DueDate: day.AddDate(0, 0, 7),
	})
	require.NoError(t, err)
	assert.Equal(t, "Dune is overdue for Sipho", msg.Subject)
	assert.Contains(t, msg.Plain, "Due Date: 2024-03-21")
}

func TestHTMLEscapesNames(t *testing.T) {
	msg, err := BorrowNotice(BorrowDetails{StudentName: "<script>", Title: "T", BorrowDate: day})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage("library@school.test", []string{"a@x.test", "b@x.test"},
		"Ünïcode subject", "plain body", "<p>html body</p>", day)
	require.NoError(t, err)

	var raw bytes.Buffer
	_, err = msg.WriteTo(&raw)
	require.NoError(t, err)

	m, err := mail.ReadMessage(&raw)
	require.NoError(t, err)
	to, err := mail.ParseAddressList(m.Header.Get("To"))
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "a@x.test", to[0].Address)
	assert.Equal(t, "b@x.test", to[1].Address)

	subject, err := new(mime.WordDecoder).DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Ünïcode subject", subject)

	date, err := m.Header.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(day))

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if err != nil {
			break
		}
		partType, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		require.NoError(t, err)
		types = append(types, partType)
	}
	assert.Equal(t, []string{"text/plain", "text/html"}, types)
}

func TestBuildMessageRejectsBadAddresses(t *testing.T) {
	_, err := buildMessage("not an address", []string{"a@x.test"}, "s", "p", "h", day)
	assert.Error(t, err)

	_, err = buildMessage("library@school.test", []string{"@@"}, "s", "p", "h", day)
	assert.Error(t, err)
}

type fakeSender struct {
	sent []*gomail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func TestSMTPNotifier(t *testing.T) {
	n, err := NewSMTPNotifier("localhost", 2525, "", "", "library@school.test")
	require.NoError(t, err)
	sender := &fakeSender{}
	n.client = sender

	require.NoError(t, n.SendEmail(context.Background(), []string{"p@x.test"}, "s", "p", "h"))
	require.Len(t, sender.sent, 1)
	require.Len(t, sender.sent[0].GetTo(), 1)
	assert.Equal(t, "p@x.test", sender.sent[0].GetTo()[0].Address)

	require.NoError(t, n.SendEmail(context.Background(), nil, "s", "p", "h"))
	assert.Len(t, sender.sent, 1)

	sender.err = errors.New("relay down")
	assert.ErrorContains(t, n.SendEmail(context.Background(), []string{"p@x.test"}, "s", "p", "h"), "relay down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.SendEmail(ctx, []string{"p@x.test"}, "s", "p", "h"), context.Canceled)
}

func TestNewSMTPNotifierRequiresHost(t *testing.T) {
	_, err := NewSMTPNotifier("", 587, "user", "secret", "library@school.test")
	assert.Error(t, err)
}
