package store

import (
	"testing"

	"qms/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		ok     bool
	}{
		{ActionCallNext, models.StatusWaiting, true},
		{ActionCallNext, models.StatusCalling, false},
		{ActionRecall, models.StatusCalling, true},
		{ActionRecall, models.StatusServing, false},
		{ActionRecall, models.StatusWaiting, false},
		{ActionStart, models.StatusCalling, true},
		{ActionFinish, models.StatusServing, true},
		{ActionFinish, models.StatusCalling, true},
		{ActionFinish, models.StatusWaiting, false},
		{ActionNoShow, models.StatusCalling, true},
		{ActionNoShow, models.StatusFinished, false},
		{ActionFeedback, models.StatusFinished, true},
		{ActionFeedback, models.StatusNoShow, false},
		{"unknown", models.StatusWaiting, false},
	}

	for _, tc := range cases {
		if got := ValidTransition(tc.action, tc.from); got != tc.ok {
			t.Fatalf("action %s from %s expected %v got %v", tc.action, tc.from, tc.ok, got)
		}
	}
}

func TestTransitionsNeverRegress(t *testing.T) {
	targets := map[string]string{
		ActionCallNext: models.StatusCalling,
		ActionRecall:   models.StatusCalling,
		ActionStart:    models.StatusServing,
		ActionFinish:   models.StatusFinished,
		ActionNoShow:   models.StatusNoShow,
	}
	for action, to := range targets {
		for _, from := range transitionMap[action] {
			if Regresses(from, to) {
				t.Fatalf("%s moves %s back to %s", action, from, to)
			}
		}
	}
	for _, from := range []string{models.StatusFinished, models.StatusNoShow} {
		for action := range targets {
			if ValidTransition(action, from) {
				t.Fatalf("terminal status %s allows %s", from, action)
			}
		}
	}
}

func TestFinishAction(t *testing.T) {
	if action, ok := FinishAction(models.StatusNoShow); !ok || action != ActionNoShow {
		t.Fatalf("unexpected action %q", action)
	}
	if _, ok := FinishAction(models.StatusServing); ok {
		t.Fatalf("serving is not a terminal status")
	}
}
