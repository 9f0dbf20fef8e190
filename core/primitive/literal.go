package primitive

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sosodev/duration"
)

// ParseLiteral decodes a URI literal (as found in key segments and function
// parameters) into the natural wire value of kind.
func ParseLiteral(kind Kind, text string) (any, error) {
	v, err := parseLiteral(kind, text)
	if err != nil {
		return nil, &ValidationError{
			Constraint: ConstraintLiteral,
			Value:      text,
			Target:     kind.Type(),
			Message:    fmt.Sprintf("The literal %q is not a valid %s", text, kind),
			Err:        err,
		}
	}
	return v, nil
}

func parseLiteral(kind Kind, text string) (any, error) {
	switch kind {
	case KindString:
		return unquote(text)
	case KindBoolean:
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("expected true or false")
	case KindByte:
		n, err := strconv.ParseUint(text, 10, 8)
		return uint8(n), err
	case KindSByte:
		n, err := strconv.ParseInt(text, 10, 8)
		return int8(n), err
	case KindInt16:
		n, err := strconv.ParseInt(text, 10, 16)
		return int16(n), err
	case KindInt32:
		n, err := strconv.ParseInt(text, 10, 32)
		return int32(n), err
	case KindInt64:
		n, err := strconv.ParseInt(strings.TrimSuffix(text, "L"), 10, 64)
		return n, err
	case KindSingle:
		f, err := strconv.ParseFloat(strings.TrimRight(text, "fF"), 32)
		return float32(f), err
	case KindDouble:
		return strconv.ParseFloat(strings.TrimRight(text, "dD"), 64)
	case KindDecimal:
		return strconv.ParseFloat(strings.TrimRight(text, "mM"), 64)
	case KindGuid:
		return uuid.Parse(text)
	case KindBinary:
		inner, ok := strings.CutPrefix(text, "binary")
		if !ok {
			return nil, fmt.Errorf("expected binary'...'")
		}
		s, err := unquote(inner)
		if err != nil {
			return nil, err
		}
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	case KindDateTimeOffset:
		return time.Parse(time.RFC3339Nano, text)
	case KindDate:
		return ParseDate(text)
	case KindTimeOfDay:
		return ParseTimeOfDay(text)
	case KindDuration:
		inner, ok := strings.CutPrefix(text, "duration")
		if ok {
			s, err := unquote(inner)
			if err != nil {
				return nil, err
			}
			text = s
		}
		return parseISODuration(text)
	default:
		return nil, fmt.Errorf("unknown kind %d", kind)
	}
}

// FormatLiteral renders a wire value as a URI literal. Values without an EDM
// kind are formatted with %v.
func FormatLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []byte:
		return "binary'" + base64.RawURLEncoding.EncodeToString(val) + "'"
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case time.Duration:
		return "duration'" + formatISODuration(val) + "'"
	case uuid.UUID:
		return val.String()
	default:
		return fmt.Sprint(v)
	}
}

func unquote(text string) (string, error) {
	if len(text) < 2 || text[0] != '\'' || text[len(text)-1] != '\'' {
		return "", fmt.Errorf("expected a single-quoted string")
	}
	inner := text[1 : len(text)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\'' {
			if i+1 >= len(inner) || inner[i+1] != '\'' {
				return "", fmt.Errorf("unescaped quote at offset %d", i+1)
			}
			i++
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// parseISODuration parses the day-time subset of ISO-8601 durations used by
// Edm.Duration: [-]P[nD][T[nH][nM][n[.n]S]]. Years, months and weeks have
// no fixed length and are rejected.
func parseISODuration(s string) (time.Duration, error) {
	if body := strings.TrimPrefix(s, "-"); len(body) < 2 || body[0] != 'P' {
		return 0, fmt.Errorf("duration %q must start with P", s)
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	if d.Years != 0 || d.Months != 0 || d.Weeks != 0 {
		return 0, fmt.Errorf("duration %q is not a day-time duration", s)
	}
	return d.ToTimeDuration(), nil
}

func formatISODuration(d time.Duration) string {
	out := &duration.Duration{}
	if d < 0 {
		out.Negative = true
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute

	out.Days = float64(days)
	out.Hours = float64(h)
	out.Minutes = float64(m)
	out.Seconds = d.Seconds()
	return out.String()
}

// FormatDuration renders d as an ISO-8601 day-time duration ("P1DT2H").
func FormatDuration(d time.Duration) string {
	return formatISODuration(d)
}

// ParseDuration parses an ISO-8601 day-time duration without the
// duration'...' literal wrapper.
func ParseDuration(s string) (time.Duration, error) {
	return parseISODuration(s)
}
