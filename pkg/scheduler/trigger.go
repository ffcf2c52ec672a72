package scheduler

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	TypeDate     = "date"
	TypeInterval = "interval"
	TypeCron     = "cron"
)

// Spec describes a trigger: {type: date|interval|cron, args: {...}}.
type Spec struct {
	Type string         `json:"type" yaml:"type"`
	Args map[string]any `json:"args" yaml:"args"`
}

// Trigger is a cron.Schedule that knows its kind. A zero Next means never again.
type Trigger interface {
	cron.Schedule
	Type() string
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

var (
	expressionParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	fieldParser      = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
)

// ConstructScheduler builds a trigger interpreting dates in the local zone.
func ConstructScheduler(spec Spec) (Trigger, error) {
	return ConstructSchedulerIn(spec, time.Local)
}

func ConstructSchedulerIn(spec Spec, loc *time.Location) (Trigger, error) {
	switch spec.Type {
	case TypeDate:
		return newDateTrigger(spec.Args, loc)
	case TypeInterval:
		return newIntervalTrigger(spec.Args, loc, time.Now())
	case TypeCron:
		return newCronTrigger(spec.Args, loc)
	default:
		return nil, invalidArgs(spec.Type, "unknown trigger type", nil)
	}
}

// DateTrigger fires once.
type DateTrigger struct {
	RunAt time.Time
}

func (*DateTrigger) Type() string { return TypeDate }

func (d *DateTrigger) Next(t time.Time) time.Time {
	if t.Before(d.RunAt) {
		return d.RunAt
	}

	return time.Time{}
}

func newDateTrigger(args map[string]any, loc *time.Location) (*DateTrigger, error) {
	raw, ok := args["date"]
	if !ok {
		return nil, invalidArgs(TypeDate, "missing required field \"date\"", nil)
	}

	runAt, err := parseDate(raw, loc)
	if err != nil {
		return nil, invalidArgs(TypeDate, "unparsable date", err)
	}

	return &DateTrigger{RunAt: runAt}, nil
}

// IntervalTrigger fires every Interval from Start, until End when set.
type IntervalTrigger struct {
	Interval time.Duration
	Start    time.Time
	End      time.Time
}

func (*IntervalTrigger) Type() string { return TypeInterval }

func (i *IntervalTrigger) Next(t time.Time) time.Time {
	var next time.Time

	if t.Before(i.Start) {
		next = i.Start
	} else {
		periods := t.Sub(i.Start)/i.Interval + 1
		next = i.Start.Add(periods * i.Interval)
	}

	if !i.End.IsZero() && next.After(i.End) {
		return time.Time{}
	}

	return next
}

var intervalUnits = []struct {
	name string
	unit time.Duration
}{
	{"weeks", 7 * 24 * time.Hour},
	{"days", 24 * time.Hour},
	{"hours", time.Hour},
	{"minutes", time.Minute},
	{"seconds", time.Second},
}

func newIntervalTrigger(args map[string]any, loc *time.Location, now time.Time) (*IntervalTrigger, error) {
	var interval time.Duration

	known := map[string]bool{"start_date": true, "end_date": true}

	for _, u := range intervalUnits {
		known[u.name] = true

		raw, ok := args[u.name]
		if !ok {
			continue
		}

		amount, ok := toFloat(raw)
		if !ok || amount < 0 || math.IsInf(amount, 0) || math.IsNaN(amount) {
			return nil, invalidArgs(TypeInterval, fmt.Sprintf("%s must be a non-negative number", u.name), nil)
		}

		term := amount * float64(u.unit)
		if term >= math.MaxInt64 || time.Duration(term) > math.MaxInt64-interval {
			return nil, invalidArgs(TypeInterval, "interval too large", nil)
		}

		interval += time.Duration(term)
	}

	for name := range args {
		if !known[name] {
			return nil, invalidArgs(TypeInterval, fmt.Sprintf("unknown field %q", name), nil)
		}
	}

	if interval <= 0 {
		return nil, invalidArgs(TypeInterval, "interval must be greater than zero", nil)
	}

	start, end, err := window(TypeInterval, args, loc)
	if err != nil {
		return nil, err
	}

	if start.IsZero() {
		start = now.In(loc)
	}

	return &IntervalTrigger{Interval: interval, Start: start, End: end}, nil
}

// CronTrigger fires on a calendar expression, optionally bounded by Start and End.
type CronTrigger struct {
	Expression string
	Start      time.Time
	End        time.Time

	schedule cron.Schedule
}

func (*CronTrigger) Type() string { return TypeCron }

func (c *CronTrigger) Next(t time.Time) time.Time {
	if !c.Start.IsZero() && t.Before(c.Start) {
		t = c.Start.Add(-time.Second)
	}

	next := c.schedule.Next(t)
	if !c.End.IsZero() && next.After(c.End) {
		return time.Time{}
	}

	return next
}

var cronFields = []struct {
	name     string
	fallback string
}{
	{"second", "0"},
	{"minute", "*"},
	{"hour", "*"},
	{"day", "*"},
	{"month", "*"},
	{"day_of_week", "*"},
}

func newCronTrigger(args map[string]any, loc *time.Location) (*CronTrigger, error) {
	var (
		expression string
		parser     cron.Parser
	)

	if raw, ok := args["expression"]; ok {
		s, ok := raw.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, invalidArgs(TypeCron, "expression must be a non-empty string", nil)
		}

		expression = s
		parser = expressionParser
	} else {
		fields := make([]string, 0, len(cronFields))
		given := 0

		for _, f := range cronFields {
			raw, ok := args[f.name]
			if !ok {
				fields = append(fields, f.fallback)

				continue
			}

			given++

			fields = append(fields, strings.TrimSpace(fmt.Sprint(raw)))
		}

		if given == 0 {
			return nil, invalidArgs(TypeCron, "expected \"expression\" or at least one cron field", nil)
		}

		expression = strings.Join(fields, " ")
		parser = fieldParser
	}

	schedule, err := parser.Parse("CRON_TZ=" + loc.String() + " " + expression)
	if err != nil {
		return nil, invalidArgs(TypeCron, "unparsable cron expression", err)
	}

	start, end, err := window(TypeCron, args, loc)
	if err != nil {
		return nil, err
	}

	return &CronTrigger{Expression: expression, Start: start, End: end, schedule: schedule}, nil
}

func window(triggerType string, args map[string]any, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time

	if raw, ok := args["start_date"]; ok {
		parsed, err := parseDate(raw, loc)
		if err != nil {
			return start, end, invalidArgs(triggerType, "unparsable start_date", err)
		}

		start = parsed
	}

	if raw, ok := args["end_date"]; ok {
		parsed, err := parseDate(raw, loc)
		if err != nil {
			return start, end, invalidArgs(triggerType, "unparsable end_date", err)
		}

		end = parsed
	}

	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, invalidArgs(triggerType, "end_date is before start_date", nil)
	}

	return start, end, nil
}

func parseDate(raw any, loc *time.Location) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		var lastErr error

		for _, layout := range dateLayouts {
			parsed, err := time.ParseInLocation(layout, v, loc)
			if err == nil {
				return parsed, nil
			}

			lastErr = err
		}

		return time.Time{}, lastErr
	default:
		return time.Time{}, fmt.Errorf("expected a date string, got %T", raw)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
