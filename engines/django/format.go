package django

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultDateFormat is used by the date filter when no format is given.
const DefaultDateFormat = "N j, Y"

var apMonths = [...]string{
	"Jan.", "Feb.", "March", "April", "May", "June",
	"July", "Aug.", "Sept.", "Oct.", "Nov.", "Dec.",
}

// FormatDate renders t using Django date format characters. A backslash
// escapes the following character; unknown characters are copied.
func FormatDate(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			i++
			sb.WriteByte(format[i])
			continue
		}
		sb.WriteString(dateSpecifier(t, c))
	}
	return sb.String()
}

func dateSpecifier(t time.Time, c byte) string {
	switch c {
	case 'a':
		if t.Hour() < 12 {
			return "a.m."
		}
		return "p.m."
	case 'A':
		if t.Hour() < 12 {
			return "AM"
		}
		return "PM"
	case 'b':
		return strings.ToLower(t.Format("Jan"))
	case 'c':
		return t.Format(time.RFC3339)
	case 'd':
		return t.Format("02")
	case 'D':
		return t.Format("Mon")
	case 'e':
		return t.Format("MST")
	case 'E', 'F':
		return t.Format("January")
	case 'f':
		return hourMinute(t)
	case 'g':
		return strconv.Itoa(hour12(t))
	case 'G':
		return strconv.Itoa(t.Hour())
	case 'h':
		return fmt.Sprintf("%02d", hour12(t))
	case 'H':
		return t.Format("15")
	case 'i':
		return t.Format("04")
	case 'j':
		return strconv.Itoa(t.Day())
	case 'l':
		return t.Format("Monday")
	case 'L':
		return strconv.FormatBool(isLeap(t.Year()))
	case 'm':
		return t.Format("01")
	case 'M':
		return t.Format("Jan")
	case 'n':
		return strconv.Itoa(int(t.Month()))
	case 'N':
		return apMonths[t.Month()-1]
	case 'o':
		y, _ := t.ISOWeek()
		return strconv.Itoa(y)
	case 'O':
		return t.Format("-0700")
	case 'P':
		switch {
		case t.Hour() == 0 && t.Minute() == 0:
			return "midnight"
		case t.Hour() == 12 && t.Minute() == 0:
			return "noon"
		}
		return hourMinute(t) + " " + dateSpecifier(t, 'a')
	case 'r':
		return t.Format(time.RFC1123Z)
	case 's':
		return t.Format("05")
	case 'S':
		return ordinalSuffix(t.Day())
	case 't':
		return strconv.Itoa(time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day())
	case 'T':
		return t.Format("MST")
	case 'u':
		return fmt.Sprintf("%06d", t.Nanosecond()/1000)
	case 'U':
		return strconv.FormatInt(t.Unix(), 10)
	case 'w':
		return strconv.Itoa(int(t.Weekday()))
	case 'W':
		_, w := t.ISOWeek()
		return strconv.Itoa(w)
	case 'y':
		return t.Format("06")
	case 'Y':
		return strconv.Itoa(t.Year())
	case 'z':
		return strconv.Itoa(t.YearDay() - 1)
	case 'Z':
		_, off := t.Zone()
		return strconv.Itoa(off)
	}
	return string(c)
}

func hour12(t time.Time) int {
	h := t.Hour() % 12
	if h == 0 {
		return 12
	}
	return h
}

func hourMinute(t time.Time) string {
	if t.Minute() == 0 {
		return strconv.Itoa(hour12(t))
	}
	return fmt.Sprintf("%d:%02d", hour12(t), t.Minute())
}

func isLeap(y int) bool { return y%4 == 0 && (y%100 != 0 || y%400 == 0) }

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// FormatFloat implements floatformat: a positive precision always prints
// that many decimals, a negative one only when the number has a fraction.
func FormatFloat(f float64, precision int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	places := precision
	if places < 0 {
		places = -places
	}
	scale := math.Pow(10, float64(places))
	rounded := math.Round(f*scale) / scale
	if precision < 0 && rounded == math.Trunc(rounded) {
		return strconv.FormatFloat(rounded, 'f', 0, 64)
	}
	return strconv.FormatFloat(rounded, 'f', places, 64)
}
