package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"eventdesk/internal/model"
)

var frequencyToRRule = map[model.Frequency]rrule.Frequency{
	model.FrequencyDaily:   rrule.DAILY,
	model.FrequencyWeekly:  rrule.WEEKLY,
	model.FrequencyMonthly: rrule.MONTHLY,
	model.FrequencyYearly:  rrule.YEARLY,
}

// FormatRRule renders rule as RFC 5545 RRULE text (without the "RRULE:"
// prefix). Until is written as the last second of its calendar date in UTC
// so the date survives a round trip.
func FormatRRule(rule model.RecurrenceRule) (string, error) {
	if err := rule.Validate(); err != nil {
		return "", err
	}
	opt := rrule.ROption{
		Freq:     frequencyToRRule[rule.Frequency],
		Interval: rule.Interval,
		Count:    rule.Count,
	}
	if rule.Until != nil {
		y, m, d := rule.Until.Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
	}
	return opt.RRuleString(), nil
}

// ParseRRule converts RRULE text into a rule. Only FREQ, INTERVAL, COUNT
// and UNTIL are representable; any BY* part is rejected.
func ParseRRule(text string) (model.RecurrenceRule, error) {
	var rule model.RecurrenceRule

	text = strings.TrimPrefix(strings.TrimSpace(text), "RRULE:")
	if text == "" {
		return rule, errors.New("rrule: empty rule")
	}
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return rule, fmt.Errorf("rrule: %w", err)
	}
	if hasByParts(opt) {
		return rule, fmt.Errorf("rrule: unsupported rule parts in %q", text)
	}

	found := false
	for f, rf := range frequencyToRRule {
		if rf == opt.Freq {
			rule.Frequency = f
			found = true
			break
		}
	}
	if !found {
		return rule, fmt.Errorf("rrule: unsupported frequency %v", opt.Freq)
	}

	rule.Interval = opt.Interval
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	rule.Count = opt.Count
	if !opt.Until.IsZero() {
		u := opt.Until
		rule.Until = &u
	}
	if err := rule.Validate(); err != nil {
		return model.RecurrenceRule{}, err
	}
	return rule, nil
}

func hasByParts(opt *rrule.ROption) bool {
	return len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Bymonthday) > 0 ||
		len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 || len(opt.Byweekday) > 0 ||
		len(opt.Byhour) > 0 || len(opt.Byminute) > 0 || len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0
}
