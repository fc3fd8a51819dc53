package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Message is a rendered email.
type Message struct {
	Subject string
	Plain   string
	HTML    string
}

// BorrowDetails describe a borrow for the guardian notice.
type BorrowDetails struct {
	StudentName   string
	StudentNumber string
	Title         string
	Author        string
	BorrowDate    time.Time
	DueDate       *time.Time
	Images        []string
}

// ReturnDetails describe a return for the guardian notice.
type ReturnDetails struct {
	StudentName   string
	StudentNumber string
	Title         string
	Author        string
	ReturnDate    time.Time
	Images        []string
	Amount        decimal.Decimal
	Issues        []string
	Lost          bool
}

// OverdueDetails describe an open borrow past its due date.
type OverdueDetails struct {
	StudentName   string
	StudentNumber string
	Title         string
	Author        string
	BorrowDate    time.Time
	DueDate       time.Time
}

var funcs = map[string]any{
	"date":   func(t time.Time) string { return t.Format(dateLayout) },
	"money":  func(d decimal.Decimal) string { return "R" + d.StringFixed(2) },
	"join":   func(s []string) string { return strings.Join(s, ", ") },
	"orNA":   func(s string) string { return orNA(s) },
	"owing":  func(d decimal.Decimal) bool { return d.IsPositive() },
	"dueStr": func(t *time.Time) string { return dueString(t) },
}

var (
	borrowPlain = texttemplate.Must(texttemplate.New("borrow").Funcs(funcs).Parse(`Dear Parent/Guardian,

We wish to inform you that your child, {{.StudentName}} (Student Number: {{.StudentNumber}}) has borrowed the following book:

Book Title: {{.Title}}
Author: {{orNA .Author}}
Borrow Date: {{date .BorrowDate}}
Due Date: {{dueStr .DueDate}}

Images showing the state of the book at borrowing:
{{range .Images}}{{.}}
{{end}}
Please keep this for your records.

Regards,
Library Team`))

	borrowHTML = htmltemplate.Must(htmltemplate.New("borrow").Funcs(funcs).Parse(`<p>Dear Parent/Guardian,</p>` +
		`<p>We wish to inform you that your child, <strong>{{.StudentName}}</strong> (Student Number: {{.StudentNumber}}) has borrowed the following book:</p>` +
		`<ul><li><strong>Book Title:</strong> {{.Title}}</li>` +
		`<li><strong>Author:</strong> {{orNA .Author}}</li>` +
		`<li><strong>Borrow Date:</strong> {{date .BorrowDate}}</li>` +
		`<li><strong>Due Date:</strong> {{dueStr .DueDate}}</li></ul>` +
		`<p>Images showing the state of the book at borrowing:</p><ul>` +
		`{{range .Images}}<li><a href="{{.}}" target="_blank">View Image</a></li>{{end}}</ul>` +
		`<p>Please keep this for your records.<br><br>Regards,<br>Library Team</p>`))

	returnPlain = texttemplate.Must(texttemplate.New("return").Funcs(funcs).Parse(`Dear Parent/Guardian,

We wish to inform you that your child, {{.StudentName}} (Student Number: {{.StudentNumber}}) has returned the following book:

Book Title: {{.Title}}
Author: {{orNA .Author}}
Return Date: {{date .ReturnDate}}

{{if .Images}}Images showing the state of the book at return:
{{range .Images}}{{.}}
{{end}}
{{end}}{{if owing .Amount}}{{if .Lost}}The book has been reported lost and is charged at its full price.
{{end}}Amount owed for damages: {{money .Amount}}
Detected issues: {{join .Issues}}

{{else}}No fines are owed for this return.

{{end}}Regards,
Library Team`))

	returnHTML = htmltemplate.Must(htmltemplate.New("return").Funcs(funcs).Parse(`<p>Dear Parent/Guardian,</p>` +
		`<p>We wish to inform you that your child, <strong>{{.StudentName}}</strong> (Student Number: {{.StudentNumber}}) has returned the following book:</p>` +
		`<ul><li><strong>Book Title:</strong> {{.Title}}</li>` +
		`<li><strong>Author:</strong> {{orNA .Author}}</li>` +
		`<li><strong>Return Date:</strong> {{date .ReturnDate}}</li></ul>` +
		`{{if .Images}}<p>Images showing the state of the book at return:</p><ul>` +
		`{{range .Images}}<li><a href="{{.}}" target="_blank">View Image</a></li>{{end}}</ul>{{end}}` +
		`{{if owing .Amount}}{{if .Lost}}<p>The book has been reported lost and is charged at its full price.</p>{{end}}` +
		`<p><strong>Amount owed for damages:</strong> {{money .Amount}}</p>` +
		`<p><strong>Detected issues:</strong> {{join .Issues}}</p>` +
		`{{else}}<p>No fines are owed for this return.</p>{{end}}` +
		`<p>Regards,<br>Library Team</p>`))

	overduePlain = texttemplate.Must(texttemplate.New("overdue").Funcs(funcs).Parse(`Dear Parent/Guardian,

Your child, {{.StudentName}} (Student Number: {{.StudentNumber}}), has not yet returned the following book:

Book Title: {{.Title}}
Author: {{orNA .Author}}
Borrow Date: {{date .BorrowDate}}
Due Date: {{date .DueDate}}

Please make sure it is returned as soon as possible.

Regards,
Library Team`))

	overdueHTML = htmltemplate.Must(htmltemplate.New("overdue").Funcs(funcs).Parse(`<p>Dear Parent/Guardian,</p>` +
		`<p>Your child, <strong>{{.StudentName}}</strong> (Student Number: {{.StudentNumber}}), has not yet returned the following book:</p>` +
		`<ul><li><strong>Book Title:</strong> {{.Title}}</li>` +
		`<li><strong>Author:</strong> {{orNA .Author}}</li>` +
		`<li><strong>Borrow Date:</strong> {{date .BorrowDate}}</li>` +
		`<li><strong>Due Date:</strong> {{date .DueDate}}</li></ul>` +
		`<p>Please make sure it is returned as soon as possible.</p>` +
		`<p>Regards,<br>Library Team</p>`))
)

func render(plain *texttemplate.Template, html *htmltemplate.Template, subject string, data any) (Message, error) {
	var p, h bytes.Buffer
	if err := plain.Execute(&p, data); err != nil {
		return Message{}, fmt.Errorf("render plain body: %w", err)
	}
	if err := html.Execute(&h, data); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{Subject: subject, Plain: p.String(), HTML: h.String()}, nil
}

// BorrowNotice renders the email sent once borrow evidence is attached.
func BorrowNotice(d BorrowDetails) (Message, error) {
	return render(borrowPlain, borrowHTML, d.StudentName+" has borrowed "+d.Title, d)
}

// ReturnNotice renders the email sent after a return.
func ReturnNotice(d ReturnDetails) (Message, error) {
	return render(returnPlain, returnHTML, d.StudentName+" has returned "+d.Title, d)
}

// OverdueNotice renders the reminder for an overdue borrow.
func OverdueNotice(d OverdueDetails) (Message, error) {
	return render(overduePlain, overdueHTML, d.Title+" is overdue for "+d.StudentName, d)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func dueString(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.Format(dateLayout)
}
