package ssi

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fortio.org/safecast"
)

// Strftime formats t with C strftime conversions. Unknown conversions are
// copied through unchanged.
func Strftime(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'a':
			sb.WriteString(t.Format("Mon"))
		case 'A':
			sb.WriteString(t.Format("Monday"))
		case 'b', 'h':
			sb.WriteString(t.Format("Jan"))
		case 'B':
			sb.WriteString(t.Format("January"))
		case 'c':
			sb.WriteString(t.Format("Mon Jan  2 15:04:05 2006"))
		case 'C':
			fmt.Fprintf(&sb, "%02d", t.Year()/100)
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'D':
			sb.WriteString(t.Format("01/02/06"))
		case 'e':
			fmt.Fprintf(&sb, "%2d", t.Day())
		case 'F':
			sb.WriteString(t.Format("2006-01-02"))
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'I':
			fmt.Fprintf(&sb, "%02d", hour12(t))
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'k':
			fmt.Fprintf(&sb, "%2d", t.Hour())
		case 'l':
			fmt.Fprintf(&sb, "%2d", hour12(t))
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'n':
			sb.WriteByte('\n')
		case 'p':
			sb.WriteString(t.Format("PM"))
		case 'r':
			sb.WriteString(t.Format("03:04:05 PM"))
		case 'R':
			sb.WriteString(t.Format("15:04"))
		case 's':
			sb.WriteString(strconv.FormatInt(t.Unix(), 10))
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 't':
			sb.WriteByte('\t')
		case 'T':
			sb.WriteString(t.Format("15:04:05"))
		case 'u':
			wd := int(t.Weekday())
			if wd == 0 {
				wd = 7
			}
			sb.WriteString(strconv.Itoa(wd))
		case 'w':
			sb.WriteString(strconv.Itoa(int(t.Weekday())))
		case 'x':
			sb.WriteString(t.Format("01/02/06"))
		case 'X':
			sb.WriteString(t.Format("15:04:05"))
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'Y':
			sb.WriteString(strconv.Itoa(t.Year()))
		case 'z':
			sb.WriteString(t.Format("-0700"))
		case 'Z':
			sb.WriteString(t.Format("MST"))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}

func hour12(t time.Time) int {
	h := t.Hour() % 12
	if h == 0 {
		return 12
	}
	return h
}

var sizeUnits = []string{"KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a file size as plain bytes or, with abbrev, in the
// largest binary unit with one decimal.
func FormatSize(size int64, format string) (string, error) {
	n, err := safecast.Conv[uint64](size)
	if err != nil {
		return "", fmt.Errorf("file size %d: %w", size, err)
	}
	switch format {
	case "bytes":
		return strconv.FormatUint(n, 10), nil
	case "abbrev":
		if n < 1024 {
			return strconv.FormatUint(n, 10) + " bytes", nil
		}
		f := float64(n) / 1024
		unit := 0
		for f >= 1024 && unit < len(sizeUnits)-1 {
			f /= 1024
			unit++
		}
		return strconv.FormatFloat(f, 'f', 1, 64) + " " + sizeUnits[unit], nil
	default:
		return "", fmt.Errorf("invalid size format %q", format)
	}
}
