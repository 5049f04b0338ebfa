package archive

import (
	"testing"
	"time"
)

func TestDOSDateTime(t *testing.T) {
	tests := []struct {
		name     string
		in       time.Time
		wantTime uint16
		wantDate uint16
	}{
		{
			name:     "regular",
			in:       time.Date(2024, time.March, 15, 13, 45, 30, 0, time.UTC),
			wantTime: 13<<11 | 45<<5 | 15,
			wantDate: (2024-1980)<<9 | 3<<5 | 15,
		},
		{
			name:     "odd seconds truncate",
			in:       time.Date(2000, time.January, 1, 0, 0, 59, 0, time.UTC),
			wantTime: 29,
			wantDate: 20<<9 | 1<<5 | 1,
		},
		{
			name:     "before 1980 clamps year",
			in:       time.Date(1970, time.June, 2, 1, 2, 4, 0, time.UTC),
			wantTime: 1<<11 | 2<<5 | 2,
			wantDate: 0<<9 | 6<<5 | 2,
		},
		{
			name:     "after 2107 clamps year",
			in:       time.Date(2200, time.December, 31, 23, 59, 58, 0, time.UTC),
			wantTime: 23<<11 | 59<<5 | 29,
			wantDate: 127<<9 | 12<<5 | 31,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTime, gotDate := DOSDateTime(tt.in)
			if gotTime != tt.wantTime {
				t.Errorf("time = %#x, want %#x", gotTime, tt.wantTime)
			}
			if gotDate != tt.wantDate {
				t.Errorf("date = %#x, want %#x", gotDate, tt.wantDate)
			}
		})
	}
}
