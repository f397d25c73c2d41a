package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Brussels")
	if err != nil {
		panic(err)
	}
}

// force timezone to the portal's locale because our containers tend
// to run in UTC, which shifts "which day is it" answers used when
// scheduling runs and stamping history rows
func Now() time.Time {
	return time.Now().In(Location)
}
