package repair

import (
	"testing"
	"time"
)

func TestTracker_AllowsUntilMaxRepairsReached(t *testing.T) {
	tr := NewTracker(&Limits{MaxRepairsPerTask: 2, MaxTokensPerTemplatePerDay: 1000, Cooldown: 0})

	for i := 0; i < 2; i++ {
		result := tr.CanRepair("task-1", "tpl-1")
		if !result.Allowed {
			t.Fatalf("expected attempt %d allowed, got %+v", i, result)
		}
		tr.RecordRepair("task-1", "tpl-1", 10, true)
	}

	result := tr.CanRepair("task-1", "tpl-1")
	if result.Allowed {
		t.Fatalf("expected third attempt denied, got %+v", result)
	}
}

func TestTracker_DeniesDuringCooldown(t *testing.T) {
	tr := NewTracker(&Limits{MaxRepairsPerTask: 5, MaxTokensPerTemplatePerDay: 1000, Cooldown: time.Hour})

	tr.RecordRepair("task-1", "tpl-1", 10, true)
	result := tr.CanRepair("task-1", "tpl-1")
	if result.Allowed {
		t.Fatalf("expected cooldown to deny immediate re-repair, got %+v", result)
	}
}

func TestTracker_DeniesOverDailyTokenBudget(t *testing.T) {
	tr := NewTracker(&Limits{MaxRepairsPerTask: 100, MaxTokensPerTemplatePerDay: 50, Cooldown: 0})

	tr.RecordRepair("task-1", "tpl-1", 30, true)
	tr.RecordRepair("task-2", "tpl-1", 30, true)

	result := tr.CanRepair("task-3", "tpl-1")
	if result.Allowed {
		t.Fatalf("expected daily token budget to deny repair, got %+v", result)
	}
}

func TestTracker_GetStatsReportsTokensUsed(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordRepair("task-1", "tpl-1", 500, true)
	tr.RecordRepair("task-2", "tpl-1", 250, true)

	stats := tr.GetStats("tpl-1")
	if stats.TokensUsedToday != 750 {
		t.Fatalf("expected 750 tokens used, got %d", stats.TokensUsedToday)
	}
}

func TestTracker_BreakerOpensAfterRepeatedFailuresAcrossTasks(t *testing.T) {
	tr := NewTracker(&Limits{MaxRepairsPerTask: 100, MaxTokensPerTemplatePerDay: 1_000_000, Cooldown: 0})

	for i := 0; i < 4; i++ {
		taskID := "task-" + string(rune('a'+i))
		if result := tr.CanRepair(taskID, "tpl-flaky"); !result.Allowed {
			t.Fatalf("attempt %d: expected allowed before breaker trips, got %+v", i, result)
		}
		tr.RecordRepair(taskID, "tpl-flaky", 10, false)
	}

	if state := tr.BreakerState("tpl-flaky"); state != "open" {
		t.Fatalf("expected breaker to open after repeated cross-task failures, got %s", state)
	}

	result := tr.CanRepair("task-e", "tpl-flaky")
	if result.Allowed {
		t.Fatalf("expected repair denied while breaker open, got %+v", result)
	}
	if result.Reason != "template repair circuit breaker open" {
		t.Fatalf("expected breaker-open reason, got %q", result.Reason)
	}
}

func TestTracker_CleanupDropsOldTaskEntries(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordRepair("task-1", "tpl-1", 10, true)
	tr.tasks["task-1"].createdAt = time.Now().Add(-25 * time.Hour)

	tr.Cleanup()

	if _, ok := tr.tasks["task-1"]; ok {
		t.Fatalf("expected stale task entry to be removed")
	}
}
