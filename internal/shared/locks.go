package shared

import "fmt"

// DailyCloseLockKey builds the redis key guarding a single business-date close.
func DailyCloseLockKey(clubID int64, date string) string {
	return fmt.Sprintf("dailyclose:club:%d:date:%s:lock", clubID, date)
}
