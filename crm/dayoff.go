package crm

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/agency-crm/generic"
)

// =============================================================================
// DAYS OFF - Each day off is mirrored by an all-day calendar event
// =============================================================================

// DayOffSource marks calendar events that belong to a day off.
const DayOffSource = "dayOff"

const dayOffTitle = "Day Off"

// ToggleDayOff removes the user's day off on date if there is one, otherwise
// books it. It reports whether the date is off afterwards.
func (s *Service) ToggleDayOff(ctx context.Context, userID generic.ID, date generic.Date) (bool, error) {
	if date.IsZero() {
		return false, &generic.ValidationError{Field: "date", Message: "is required"}
	}

	var off bool
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		existing, found, err := findDayOff(ctx, r, userID, date)
		if err != nil {
			return err
		}
		if found {
			return removeDayOff(ctx, r, existing)
		}
		off = true
		return addDayOff(ctx, r, userID, date)
	})
	if err != nil {
		return false, err
	}

	s.Log.Debug("day off toggled",
		zap.String("user_id", string(userID)),
		zap.String("date", date.String()),
		zap.Bool("off", off))
	return off, nil
}

// BatchDayOff sets every date to off (or not). Dates already in the wanted
// state are left alone.
func (s *Service) BatchDayOff(ctx context.Context, userID generic.ID, dates []generic.Date, off bool) (int, error) {
	changed := 0
	err := generic.RunInTx(ctx, s.Store, func(st generic.Store) error {
		r := recordsOf(st)
		for _, d := range dates {
			if d.IsZero() {
				return &generic.ValidationError{Field: "dates", Message: "contains an empty date"}
			}
			existing, found, err := findDayOff(ctx, r, userID, d)
			if err != nil {
				return err
			}
			switch {
			case off && !found:
				err = addDayOff(ctx, r, userID, d)
			case !off && found:
				err = removeDayOff(ctx, r, existing)
			default:
				continue
			}
			if err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *Service) ListDayOffs(ctx context.Context, userID generic.ID) ([]DayOff, error) {
	return recordsOf(s.Store).dayOffs.Filter(ctx, func(d DayOff) bool { return d.UserID == userID })
}

func findDayOff(ctx context.Context, r records, userID generic.ID, date generic.Date) (DayOff, bool, error) {
	matches, err := r.dayOffs.Filter(ctx, func(d DayOff) bool {
		return d.UserID == userID && d.Date.Equal(date)
	})
	if err != nil || len(matches) == 0 {
		return DayOff{}, false, err
	}
	return matches[0], true, nil
}

func addDayOff(ctx context.Context, r records, userID generic.ID, date generic.Date) error {
	d, err := r.dayOffs.Create(ctx, DayOff{UserID: userID, Date: date})
	if err != nil {
		return err
	}
	_, err = r.calendarEvents.Create(ctx, CalendarEvent{
		UserID:   userID,
		Title:    dayOffTitle,
		Start:    date,
		End:      date,
		AllDay:   true,
		Source:   DayOffSource,
		DayOffID: generic.IDPtr(d.ID),
	})
	return err
}

func removeDayOff(ctx context.Context, r records, d DayOff) error {
	events, err := r.calendarEvents.Filter(ctx, func(e CalendarEvent) bool {
		return e.Source == DayOffSource && e.DayOffID != nil && *e.DayOffID == d.ID
	})
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := r.calendarEvents.Delete(ctx, e.ID); err != nil {
			return err
		}
	}
	return r.dayOffs.Delete(ctx, d.ID)
}
