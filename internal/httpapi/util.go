package httpapi

import "time"

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}
