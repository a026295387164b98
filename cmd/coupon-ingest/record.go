package main

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/InnokentiyKim/Retail/internal/domain/coupon"
)

const fieldSep = ";"

// dateLayouts are tried in order for the validity columns.
var dateLayouts = []string{time.RFC3339, time.DateTime, time.DateOnly}

// parseRecord parses one "code;discount;from;to" line. Codes are upper-cased
// because lookups ignore case. A date-only valid_to covers the whole day.
func parseRecord(line string) (coupon.Coupon, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) != 4 {
		return coupon.Coupon{}, errors.Errorf("want 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	discount, err := strconv.Atoi(fields[1])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse discount")
	}
	from, _, err := parseDate(fields[2])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse valid_from")
	}
	to, dateOnly, err := parseDate(fields[3])
	if err != nil {
		return coupon.Coupon{}, errors.Wrap(err, "parse valid_to")
	}
	if dateOnly {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}

	c := coupon.Coupon{
		Code:      strings.ToUpper(fields[0]),
		Discount:  discount,
		ValidFrom: from,
		ValidTo:   to,
		Active:    true,
	}
	if err := c.Check(); err != nil {
		return coupon.Coupon{}, err
	}
	return c, nil
}

func parseDate(s string) (t time.Time, dateOnly bool, err error) {
	for _, layout := range dateLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			return t, layout == time.DateOnly, nil
		}
	}
	return time.Time{}, false, errors.Errorf("unsupported date %q", s)
}
