package scheduler

import (
	"testing"
	"time"
)

func TestNextFireAt_ValidCron(t *testing.T) {
	next, err := nextFireAt("*/5 * * * *")
	if err != nil {
		t.Fatalf("nextFireAt: %v", err)
	}
	if !next.After(time.Now()) {
		t.Errorf("next = %v, want a time after now", next)
	}
}

func TestNextFireAt_InvalidCronReturnsError(t *testing.T) {
	if _, err := nextFireAt("not a cron expression"); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestNextFireAt_DailyAtMidnightIsWithinADay(t *testing.T) {
	next, err := nextFireAt("0 0 * * *")
	if err != nil {
		t.Fatalf("nextFireAt: %v", err)
	}
	if next.Sub(time.Now()) > 24*time.Hour {
		t.Errorf("next fire at %v is more than a day out", next)
	}
}
