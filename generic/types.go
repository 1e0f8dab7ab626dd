/*
Package generic provides the domain-agnostic record engine.

PURPOSE:
  This package contains the types and contracts every domain package builds
  on: collection-scoped records keyed by ID, the Store interface that
  persists them, typed repositories, calendar dates and money helpers.
  Nothing in here knows about policies, agents or commissions.

KEY CONCEPTS IN THIS FILE (types.go):
  - ID: Record identifier (auto-generated or supplied by the entity)
  - Collection: Named group of records (users, clients, policies, ...)
  - Record: A stored JSON object plus its ID
  - Date: A calendar day, serialized as "2006-01-02"

DESIGN PRINCIPLES:
  1. Documents: Records are JSON objects, patched by shallow merge
  2. Precision: Money uses decimal.Decimal, never float64
  3. Type Safety: IDs and collections are distinct string types

SEE ALSO:
  - store.go: Store contract and patch merging
  - repository.go: Typed access to one collection
  - errors.go: Error taxonomy
*/
package generic

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// ID identifies a record within its collection.
type ID string

func (id ID) String() string { return string(id) }

// IDPtr returns a pointer to id, for optional links.
func IDPtr(id ID) *ID { return &id }

// Collection names a group of records.
type Collection string

const (
	Users          Collection = "users"
	Agents         Collection = "agents"
	Clients        Collection = "clients"
	Policies       Collection = "policies"
	Interactions   Collection = "interactions"
	Tasks          Collection = "tasks"
	Notifications  Collection = "notifications"
	Chargebacks    Collection = "chargebacks"
	Licenses       Collection = "licenses"
	Testimonials   Collection = "testimonials"
	CalendarNotes  Collection = "calendarNotes"
	CalendarEvents Collection = "calendarEvents"
	DayOffs        Collection = "dayOffs"
	Onboarding     Collection = "onboarding"
)

// Record is a stored JSON object. Data always carries an "id" member equal to ID.
type Record struct {
	ID   ID
	Data json.RawMessage
}

// =============================================================================
// DATE - Calendar day without time of day
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day in UTC.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts "2006-01-02" or a full RFC3339 timestamp.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(DateLayout)
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

func (d Date) AddDays(n int) Date  { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddYears(n int) Date { return Date{Time: d.Time.AddDate(n, 0, 0)} }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MonthsBetween counts whole calendar months from 'from' to 'to'.
// A month only counts once the day-of-month of 'from' has been reached,
// so Jan 15 -> Jun 20 is 5 and Jan 15 -> Jun 10 is 4. Never negative.
func MonthsBetween(from, to Date) int {
	months := (to.Time.Year()-from.Time.Year())*12 + int(to.Time.Month()-from.Time.Month())
	if to.Time.Day() < from.Time.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// =============================================================================
// MONEY
// =============================================================================

// FormatUSD renders an amount as "$1,234.50" ("-$500.00" when negative).
func FormatUSD(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + "." + frac
}
