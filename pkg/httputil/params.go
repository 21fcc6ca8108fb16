package httputil

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/medication-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// ParseTimeParam accepts RFC3339 or a bare YYYY-MM-DD date in loc. A bare
// date means the start of that day, or its last instant when endOfDay is set,
// so that a date-only range includes the whole end day.
func ParseTimeParam(value string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	d, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return d, nil
}

// TimeRange reads the required start_date and end_date query parameters.
func TimeRange(c *gin.Context, loc *time.Location) (time.Time, time.Time, error) {
	rawStart, rawEnd := c.Query("start_date"), c.Query("end_date")
	if rawStart == "" {
		return time.Time{}, time.Time{}, errors.NewValidation("start_date", "is required")
	}
	if rawEnd == "" {
		return time.Time{}, time.Time{}, errors.NewValidation("end_date", "is required")
	}

	start, err := ParseTimeParam(rawStart, loc, false)
	if err != nil {
		return time.Time{}, time.Time{}, errors.NewValidation("start_date", "want RFC3339 or YYYY-MM-DD")
	}
	end, err := ParseTimeParam(rawEnd, loc, true)
	if err != nil {
		return time.Time{}, time.Time{}, errors.NewValidation("end_date", "want RFC3339 or YYYY-MM-DD")
	}
	return start, end, nil
}

// UUIDParam parses the named path parameter.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.NewValidation(name, "must be a UUID")
	}
	return id, nil
}
