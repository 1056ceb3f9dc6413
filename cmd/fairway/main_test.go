package main

import (
	"testing"

	"github.com/fairway-pms/fairway/internal/app"
	_ "github.com/fairway-pms/fairway/internal/testing/guard"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	if !app.InTestMode() {
		t.Fatal("expected test mode to be enabled")
	}
	main()
}
