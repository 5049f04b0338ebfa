package archive

import "time"

// DOSDateTime packs t into the MS-DOS time and date words used by ZIP headers.
// Years before 1980 are clamped to 1980 and years after 2107 to 2107;
// seconds have two-second resolution.
func DOSDateTime(t time.Time) (dosTime, dosDate uint16) {
	year := t.Year()
	if year < 1980 {
		year = 1980
	}
	if year > 2107 {
		year = 2107
	}
	dosTime = uint16(t.Hour()<<11 | t.Minute()<<5 | t.Second()/2)
	dosDate = uint16((year-1980)<<9 | int(t.Month())<<5 | t.Day())
	return dosTime, dosDate
}
