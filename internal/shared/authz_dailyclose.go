package shared

// Daily close permissions.
const (
	PermDailyCloseView    = "dailyclose.view"
	PermDailyCloseExecute = "dailyclose.execute"
)

// DailyCloseScopes lists all permissions related to the night audit.
func DailyCloseScopes() []string {
	return []string{
		PermDailyCloseView,
		PermDailyCloseExecute,
	}
}
